package cognition

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

func newTestAssembler(emb *fakeEmbedder, store *fakeVectorStore) *ContextAssembler {
	cfg := testConfig()
	gate := NewGateClassifier(nil, nil, cfg)
	search := NewSimilaritySearch(emb, store, cfg)
	return NewContextAssembler(gate, search, NewRuleTables(), cfg)
}

func TestAssembleReflexiveSkipsSearch(t *testing.T) {
	emb := newFakeEmbedder(384)
	store := newFakeVectorStore()
	a := newTestAssembler(emb, store)

	threat := &Threat{
		ID:          "t-reflex",
		Level:       LevelLow,
		Description: "port scan from known scanner",
		Confidence:  0.4, // reflexive under the fallback rule
		Mitre:       []string{"T1046"},
		Timestamp:   time.Now(),
	}
	uc := a.Assemble(context.Background(), threat)

	if emb.calls.Load() != 0 || store.queries.Load() != 0 {
		t.Fatalf("reflexive path touched the search layer (embed=%d query=%d)",
			emb.calls.Load(), store.queries.Load())
	}
	if len(uc.SimilarThreats) != 0 {
		t.Errorf("similar_threats = %d, want 0", len(uc.SimilarThreats))
	}
	if uc.GlafScores != (GlafScores{}) {
		t.Errorf("glaf scores = %+v, want zero", uc.GlafScores)
	}
	if len(uc.MitreContext) != 1 {
		t.Fatalf("mitre_context = %d entries, want 1", len(uc.MitreContext))
	}
	mc := uc.MitreContext[0]
	if mc.TechniqueName != "T1046" || mc.Tactic != "unknown" {
		t.Errorf("degraded enrichment wrong: %+v", mc)
	}
}

func TestAssembleGlafWithNoSimilarThreats(t *testing.T) {
	emb := newFakeEmbedder(384)
	emb.failWith = errUnavailable // embedding service down
	a := newTestAssembler(emb, newFakeVectorStore())

	now := time.Now()
	a.now = func() time.Time { return now }

	threat := sqliThreat()
	threat.Timestamp = now
	uc := a.Assemble(context.Background(), threat)

	g := uc.GlafScores
	if g.H2Semantic != 0.5 {
		t.Errorf("h2 = %v, want 0.5 with no similar threats", g.H2Semantic)
	}
	if g.H1Operational != 1.0 {
		t.Errorf("h1 = %v, want 1.0 for timestamp = now", g.H1Operational)
	}
	if g.Combined != 0.65 {
		t.Errorf("combined = %v, want 0.3*1.0 + 0.7*0.5 = 0.65", g.Combined)
	}
	if !g.MatroidIndependent {
		t.Error("matroid_independent should be true with 0 fragments")
	}
}

func TestGlafRecencyDecay(t *testing.T) {
	a := newTestAssembler(newFakeEmbedder(384), newFakeVectorStore())
	now := time.Now()
	a.now = func() time.Time { return now }

	threat := sqliThreat()
	threat.Timestamp = now.Add(-24 * time.Hour)
	g := a.computeGlaf(threat, nil)

	want := math.Round(math.Exp(-1)*1000) / 1000
	if g.H1Operational != want {
		t.Errorf("h1 after 24h = %v, want %v", g.H1Operational, want)
	}
}

func TestGlafMeanSimilarityAndRounding(t *testing.T) {
	a := newTestAssembler(newFakeEmbedder(384), newFakeVectorStore())
	now := time.Now()
	a.now = func() time.Time { return now }

	threat := sqliThreat()
	threat.Timestamp = now
	similar := []VectorSearchResult{
		{Score: 0.9}, {Score: 0.8}, {Score: 0.7},
	}
	g := a.computeGlaf(threat, similar)

	if g.H2Semantic != 0.8 {
		t.Errorf("h2 = %v, want mean 0.8", g.H2Semantic)
	}
	if g.FragmentCount != 3 {
		t.Errorf("fragment_count = %d, want 3", g.FragmentCount)
	}
	// combined = 0.3*1.0 + 0.7*0.8 = 0.86
	if g.Combined != 0.86 {
		t.Errorf("combined = %v, want 0.86", g.Combined)
	}
	if s := round3(0.12345); s != 0.123 {
		t.Errorf("round3(0.12345) = %v", s)
	}
	if s := round3(0.9995); s != 1.0 {
		t.Errorf("round3(0.9995) = %v", s)
	}
}

func TestEnrichTechniquesPrefersSearchHits(t *testing.T) {
	a := newTestAssembler(newFakeEmbedder(384), newFakeVectorStore())

	hits := []VectorSearchResult{
		{
			ID:       "doc-1",
			Document: "Exploitation of internet-facing services.",
			Metadata: map[string]string{
				"technique_id": "T1190",
				"name":         "Exploit Public-Facing Application",
				"tactic":       "initial-access",
				"detection":    "Monitor WAF logs",
			},
		},
	}
	out := a.enrichTechniques([]string{"T1190", "T9999"}, hits)

	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
	if out[0].Detection != "Monitor WAF logs" {
		t.Errorf("search enrichment not applied: %+v", out[0])
	}
	if out[0].Description != "Exploitation of internet-facing services." {
		t.Errorf("description should come from the hit document")
	}
	if out[1].TechniqueName != "T9999" || out[1].Tactic != "unknown" {
		t.Errorf("unknown id should get degraded defaults: %+v", out[1])
	}
}

func TestFormatContextForPromptPurity(t *testing.T) {
	a := newTestAssembler(newFakeEmbedder(384), newFakeVectorStore())
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	base := sqliThreat()
	base.Timestamp = now

	shifted := *base
	shifted.Timestamp = now.Add(-12 * time.Hour)

	ucA := a.Assemble(context.Background(), base)
	ucB := a.Assemble(context.Background(), &shifted)

	outA := a.FormatContextForPrompt(ucA)
	outB := a.FormatContextForPrompt(ucB)

	linesA := strings.Split(outA, "\n")
	linesB := strings.Split(outB, "\n")
	if len(linesA) != len(linesB) {
		t.Fatalf("line counts differ: %d vs %d", len(linesA), len(linesB))
	}
	var diff []string
	for i := range linesA {
		if linesA[i] != linesB[i] {
			diff = append(diff, linesA[i])
		}
	}
	// Only the recency figure and lines derived from it may differ.
	for _, line := range diff {
		if !strings.Contains(line, "(H1)") && !strings.Contains(line, "Combined") {
			t.Errorf("unexpected differing line: %q", line)
		}
	}
	if len(diff) == 0 {
		t.Error("expected the recency figure to differ")
	}

	// Determinism: same input, same output.
	if a.FormatContextForPrompt(ucA) != outA {
		t.Error("format is not deterministic")
	}
}

func TestContextHashStableAndDiscriminating(t *testing.T) {
	a := newTestAssembler(newFakeEmbedder(384), newFakeVectorStore())

	uc := &UnifiedContext{
		Threat:     *sqliThreat(),
		Thalamic:   ThalamicOutput{Pathway: PathwayThreatAnalysis},
		GlafScores: GlafScores{Combined: 0.65},
	}
	h1 := a.ContextHash(uc)
	if h1 != a.ContextHash(uc) {
		t.Error("hash not stable")
	}

	other := *uc
	other.GlafScores.Combined = 0.66
	if a.ContextHash(&other) == h1 {
		t.Error("hash ignores combined score")
	}
}
