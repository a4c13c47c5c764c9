package cognition

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/neurosec-ai/cortex/pkg/cache"
	"github.com/neurosec-ai/cortex/pkg/config"
	"github.com/neurosec-ai/cortex/pkg/httputil"
)

// GateClassifier is Layer 1: fast triage of an incoming threat. The remote
// classifier runs under a strict best-effort budget; on any failure the
// classifier falls back to a deterministic rule table so the pipeline
// always gets an answer.
type GateClassifier struct {
	backend GateBackend
	cache   cache.Store[ThalamicOutput]
	cfg     *config.Config
	sem     *httputil.Semaphore
}

// NewGateClassifier wires the classifier. backend may be nil, which forces
// the rule-based path for every threat.
func NewGateClassifier(backend GateBackend, store cache.Store[ThalamicOutput], cfg *config.Config) *GateClassifier {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if store == nil {
		store = cache.NewMemory[ThalamicOutput](cfg.CacheMaxEntries, cfg.GateCacheTTL)
	}
	return &GateClassifier{
		backend: backend,
		cache:   store,
		cfg:     cfg,
		sem:     httputil.NewSemaphore(cfg.BatchWindow),
	}
}

// cacheKey fingerprints only the fields that influence classification.
func (g *GateClassifier) cacheKey(t *Threat) string {
	return cache.Fingerprint(string(t.Level), t.Description, t.Source, strings.Join(t.Mitre, ","))
}

// Classify returns the gate decision for t. Cache hits return the stored
// output with InferenceMs forced to 0.
func (g *GateClassifier) Classify(ctx context.Context, t *Threat) *ThalamicOutput {
	key := g.cacheKey(t)
	if cached, ok := g.cache.Get(ctx, key); ok {
		cached.InferenceMs = 0
		return &cached
	}

	out := g.classifyRemote(ctx, t)
	if out == nil {
		out = g.FallbackClassify(t)
	}
	g.cache.Put(ctx, key, *out)
	return out
}

func (g *GateClassifier) classifyRemote(ctx context.Context, t *Threat) *ThalamicOutput {
	if g.backend == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, g.cfg.GateTimeout)
	defer cancel()

	meta := map[string]string{
		"level":  string(t.Level),
		"source": t.Source,
	}
	out, err := g.backend.ClassifyText(rctx, threatQueryText(t), meta)
	if err != nil {
		log.Printf("[GATE] remote classify failed, using rules: %v", err)
		return nil
	}
	return out
}

// FallbackClassify is the deterministic rule table used when the remote
// classifier is unavailable or over budget. It never touches the network.
func (g *GateClassifier) FallbackClassify(t *Threat) *ThalamicOutput {
	out := &ThalamicOutput{
		Priority:     PriorityMedium,
		GateDecision: GateReflexive,
		Pathway:      PathwayInformational,
	}

	switch t.Level {
	case LevelCritical:
		out.Priority = PriorityCritical
	case LevelHigh:
		out.Priority = PriorityHigh
	case LevelMedium:
		out.Priority = PriorityMedium
	case LevelLow:
		out.Priority = PriorityLow
	}

	if t.Confidence > 0.8 {
		out.GateDecision = GateFullProcessing
	}

	switch {
	case len(t.Mitre) > 0:
		out.Pathway = PathwayThreatAnalysis
	case anyContains(t.Indicators, "exploit"):
		out.Pathway = PathwayOperational
	}

	var domains []string
	for _, id := range t.Mitre {
		if strings.HasPrefix(id, "T1") {
			domains = append(domains, DomainTechniqueMapping)
			break
		}
	}
	if t.Level == LevelCritical || t.Level == LevelHigh {
		domains = append(domains, DomainIncidentResponse)
	}
	if t.Confidence > 0.7 {
		domains = append(domains, DomainDetection)
	}
	if len(domains) == 0 {
		domains = []string{DomainDetection}
	}
	out.ActivatedDomains = domains

	return out
}

// RequiresFullProcessing reports whether out routes to the full pipeline.
func RequiresFullProcessing(out *ThalamicOutput) bool {
	return out != nil && out.GateDecision == GateFullProcessing
}

// BatchClassify classifies threats with a bounded concurrency window,
// returning results keyed by threat id.
func (g *GateClassifier) BatchClassify(ctx context.Context, threats []*Threat) map[string]*ThalamicOutput {
	results := make(map[string]*ThalamicOutput, len(threats))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, t := range threats {
		if err := g.sem.Acquire(ctx); err != nil {
			// Context gone; classify the rest by rules, no waiting.
			mu.Lock()
			results[t.ID] = g.FallbackClassify(t)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(t *Threat) {
			defer wg.Done()
			defer g.sem.Release()
			out := g.Classify(ctx, t)
			mu.Lock()
			results[t.ID] = out
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return results
}

// CacheStats exposes the gate cache counters.
func (g *GateClassifier) CacheStats() cache.Stats {
	return g.cache.Stats()
}

func anyContains(items []string, substr string) bool {
	for _, s := range items {
		if strings.Contains(strings.ToLower(s), substr) {
			return true
		}
	}
	return false
}
