package cognition

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/neurosec-ai/cortex/pkg/cache"
	"github.com/neurosec-ai/cortex/pkg/config"
)

// ContextAssembler is Layer 3: it fans out the gate decision and the
// similarity searches, computes GLAF convergence scores, and produces one
// UnifiedContext for the summarizer. Reflexive threats short-circuit to a
// minimal context without touching the search layer.
type ContextAssembler struct {
	gate   *GateClassifier
	search *SimilaritySearch
	rules  *RuleTables
	cfg    *config.Config

	// now is injectable so recency math is testable.
	now func() time.Time
}

// NewContextAssembler wires the assembler. rules may be nil, in which case
// the builtin tables are used.
func NewContextAssembler(gate *GateClassifier, search *SimilaritySearch, rules *RuleTables, cfg *config.Config) *ContextAssembler {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if rules == nil {
		rules = NewRuleTables()
	}
	return &ContextAssembler{
		gate:   gate,
		search: search,
		rules:  rules,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Assemble builds the unified context for t. The reflexive path issues no
// network call beyond the classifier itself.
func (a *ContextAssembler) Assemble(ctx context.Context, t *Threat) *UnifiedContext {
	thalamic := a.gate.Classify(ctx, t)

	uc := &UnifiedContext{
		Threat:         *t,
		Thalamic:       *thalamic,
		SimilarThreats: []VectorSearchResult{},
		MitreContext:   []MitreContext{},
	}

	if !RequiresFullProcessing(thalamic) {
		for _, id := range t.Mitre {
			uc.MitreContext = append(uc.MitreContext, a.rules.Enrich(id))
		}
		return uc
	}

	var (
		wg         sync.WaitGroup
		similar    []VectorSearchResult
		techniques []VectorSearchResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		similar, _ = a.search.FindSimilarThreats(ctx, t)
	}()
	go func() {
		defer wg.Done()
		techniques, _ = a.search.FindRelatedTechniques(ctx, t)
	}()
	wg.Wait()

	if similar != nil {
		uc.SimilarThreats = similar
	}
	uc.MitreContext = a.enrichTechniques(t.Mitre, techniques)
	uc.GlafScores = a.computeGlaf(t, similar)
	return uc
}

// enrichTechniques builds one MitreContext per raw id, preferring any
// enrichment present in the technique search results over the static table.
func (a *ContextAssembler) enrichTechniques(ids []string, hits []VectorSearchResult) []MitreContext {
	byID := make(map[string]VectorSearchResult, len(hits))
	for _, h := range hits {
		if tid := h.Metadata["technique_id"]; tid != "" {
			if _, dup := byID[tid]; !dup {
				byID[tid] = h
			}
		}
	}

	out := make([]MitreContext, 0, len(ids))
	for _, id := range ids {
		mc := a.rules.Enrich(id)
		if h, ok := byID[id]; ok {
			if name := h.Metadata["name"]; name != "" {
				mc.TechniqueName = name
			}
			if tactic := h.Metadata["tactic"]; tactic != "" {
				mc.Tactic = tactic
			}
			if h.Document != "" {
				mc.Description = h.Document
			}
			if det := h.Metadata["detection"]; det != "" {
				mc.Detection = det
			}
		}
		out = append(out, mc)
	}
	return out
}

// computeGlaf derives the convergence scores: H1 is exponential recency
// decay with a configurable half-life-like constant, H2 is the mean
// similarity of historical matches (0.5 when there are none).
func (a *ContextAssembler) computeGlaf(t *Threat, similar []VectorSearchResult) GlafScores {
	hours := a.now().Sub(t.Timestamp).Hours()
	if hours < 0 {
		hours = 0
	}
	h1 := math.Exp(-hours / a.cfg.RecencyHalfLifeHours)

	h2 := 0.5
	if len(similar) > 0 {
		var sum float64
		for _, s := range similar {
			sum += s.Score
		}
		h2 = sum / float64(len(similar))
	}

	return GlafScores{
		H1Operational:      round3(h1),
		H2Semantic:         round3(h2),
		Combined:           round3(a.cfg.H1Weight*h1 + a.cfg.H2Weight*h2),
		FragmentCount:      len(similar),
		MatroidIndependent: len(similar) < 10,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// FormatContextForPrompt serializes uc into the structured text block the
// summarizer consumes. It is a pure transform: for a fixed clock, identical
// contexts produce identical output, and contexts differing only in the
// threat timestamp differ only in the recency figure of the GLAF section.
func (a *ContextAssembler) FormatContextForPrompt(uc *UnifiedContext) string {
	var b strings.Builder
	t := &uc.Threat

	fmt.Fprintf(&b, "THREAT\n")
	fmt.Fprintf(&b, "- Level: %s\n", t.Level)
	fmt.Fprintf(&b, "- Description: %s\n", t.Description)
	fmt.Fprintf(&b, "- Source: %s\n", t.Source)
	if t.Target != "" {
		fmt.Fprintf(&b, "- Target: %s\n", t.Target)
	}
	fmt.Fprintf(&b, "- Confidence: %.2f\n", t.Confidence)

	fmt.Fprintf(&b, "\nCLASSIFICATION\n")
	fmt.Fprintf(&b, "- Decision: %s\n", uc.Thalamic.GateDecision)
	fmt.Fprintf(&b, "- Pathway: %s\n", uc.Thalamic.Pathway)
	fmt.Fprintf(&b, "- Priority: %s\n", uc.Thalamic.Priority)
	fmt.Fprintf(&b, "- Domains: %s\n", strings.Join(uc.Thalamic.ActivatedDomains, ", "))

	if len(uc.MitreContext) > 0 {
		fmt.Fprintf(&b, "\nMITRE CONTEXT\n")
		for _, mc := range uc.MitreContext {
			fmt.Fprintf(&b, "- %s (%s, %s): %s\n", mc.TechniqueID, mc.TechniqueName, mc.Tactic, mc.Description)
		}
	}

	if len(uc.SimilarThreats) > 0 {
		fmt.Fprintf(&b, "\nSIMILAR HISTORICAL THREATS\n")
		limit := len(uc.SimilarThreats)
		if limit > 5 {
			limit = 5
		}
		for _, s := range uc.SimilarThreats[:limit] {
			fmt.Fprintf(&b, "- [%.3f] %s\n", s.Score, s.Document)
		}
	}

	fmt.Fprintf(&b, "\nCONVERGENCE (GLAF)\n")
	fmt.Fprintf(&b, "- Recency (H1): %.3f\n", uc.GlafScores.H1Operational)
	fmt.Fprintf(&b, "- Corroboration (H2): %.3f\n", uc.GlafScores.H2Semantic)
	fmt.Fprintf(&b, "- Combined: %.3f\n", uc.GlafScores.Combined)

	if len(t.Indicators) > 0 {
		fmt.Fprintf(&b, "\nINDICATORS\n")
		for _, ind := range t.Indicators {
			fmt.Fprintf(&b, "- %s\n", ind)
		}
	}

	return b.String()
}

// ContextHash derives the summarizer cache key from the fields that
// determine the generated analysis.
func (a *ContextAssembler) ContextHash(uc *UnifiedContext) string {
	return cache.Fingerprint(
		uc.Threat.ID,
		string(uc.Thalamic.Pathway),
		fmt.Sprintf("%.3f", uc.GlafScores.Combined),
	)
}
