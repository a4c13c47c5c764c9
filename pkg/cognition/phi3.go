package cognition

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/neurosec-ai/cortex/pkg/cache"
	"github.com/neurosec-ai/cortex/pkg/config"
)

// systemInstruction frames every generative call. Kept short and fixed so
// the context hash fully determines the prompt.
const systemInstruction = `You are a senior security analyst. Given the structured threat context below, produce a concise analysis with two sections:
## Summary
Two or three sentences on what happened and why it matters.
## Recommendations
A short bulleted list of concrete next actions. Reference MITRE technique ids (T####) where relevant.`

// Summarizer is Layer 4: it turns a unified context into a natural-language
// analysis via the generative backend, with a deterministic rule-based
// fallback and a long-TTL cache keyed by context hash.
type Summarizer struct {
	backend   GenerativeBackend
	assembler *ContextAssembler
	rules     *RuleTables
	cache     cache.Store[Phi3Analysis]
	cfg       *config.Config
}

// NewSummarizer wires the summarizer. backend may be nil, which forces the
// fallback path.
func NewSummarizer(backend GenerativeBackend, assembler *ContextAssembler, rules *RuleTables, store cache.Store[Phi3Analysis], cfg *config.Config) *Summarizer {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if rules == nil {
		rules = NewRuleTables()
	}
	if store == nil {
		store = cache.NewMemory[Phi3Analysis](cfg.CacheMaxEntries, cfg.AnalysisCacheTTL)
	}
	return &Summarizer{
		backend:   backend,
		assembler: assembler,
		rules:     rules,
		cache:     store,
		cfg:       cfg,
	}
}

// Generate produces the analysis for uc. Cache hits return the stored
// analysis with InferenceMs forced to 0; generative outputs are treated as
// stable for a given context.
func (s *Summarizer) Generate(ctx context.Context, uc *UnifiedContext) *Phi3Analysis {
	key := s.assembler.ContextHash(uc)
	if cached, ok := s.cache.Get(ctx, key); ok {
		cached.InferenceMs = 0
		return &cached
	}

	analysis := s.generateRemote(ctx, uc)
	if analysis == nil {
		analysis = s.FallbackAnalysis(&uc.Threat)
	}
	s.cache.Put(ctx, key, *analysis)
	return analysis
}

func (s *Summarizer) generateRemote(ctx context.Context, uc *UnifiedContext) *Phi3Analysis {
	if s.backend == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	resp, err := s.backend.Generate(rctx, GenerationRequest{
		Prompt:      s.buildPrompt(uc),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		log.Printf("[PHI3] generation failed, using fallback: %v", err)
		return nil
	}
	return s.parseResponse(resp, &uc.Threat)
}

func (s *Summarizer) buildPrompt(uc *UnifiedContext) string {
	return systemInstruction + "\n\n" + s.assembler.FormatContextForPrompt(uc)
}

// parseResponse extracts the sections from raw model output. Missing
// sections fall back to heuristic derivation; a missing recommendation
// list reuses the rule-based recommendations from the full fallback.
func (s *Summarizer) parseResponse(resp *GenerationResponse, t *Threat) *Phi3Analysis {
	text := resp.Text

	summary := extractSection(text, "## Summary")
	if summary == "" {
		summary = firstParagraph(text)
	}
	if summary == "" {
		summary = s.fallbackSummary(t)
	}

	recs := extractBullets(extractSection(text, "## Recommendations"))
	if len(recs) == 0 {
		recs = s.rules.Recommendations(t)
	}

	related := dedupe(TechniqueIDPattern.FindAllString(text, -1))
	if len(related) == 0 {
		related = append([]string(nil), t.Mitre...)
	}

	return &Phi3Analysis{
		Summary:           summary,
		Recommendations:   recs,
		RelatedTechniques: related,
		Confidence:        0.9,
		InferenceMs:       resp.InferenceMs,
		TokenCount:        resp.TokensUsed,
	}
}

// FallbackAnalysis is the fully degraded path: summary and recommendations
// derived from the threat alone, confidence pinned at 0.5 to signal
// reduced trust.
func (s *Summarizer) FallbackAnalysis(t *Threat) *Phi3Analysis {
	return &Phi3Analysis{
		Summary:           s.fallbackSummary(t),
		Recommendations:   s.rules.Recommendations(t),
		RelatedTechniques: append([]string(nil), t.Mitre...),
		Confidence:        0.5,
		InferenceMs:       0,
		TokenCount:        0,
	}
}

func (s *Summarizer) fallbackSummary(t *Threat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s severity threat from %s: %s.", strings.ToUpper(string(t.Level)), t.Source, strings.TrimRight(t.Description, "."))
	if len(t.Mitre) > 0 {
		fmt.Fprintf(&b, " Associated techniques: %s.", strings.Join(t.Mitre, ", "))
	}
	fmt.Fprintf(&b, " Reported confidence %.2f.", t.Confidence)
	return b.String()
}

// StreamChunk is one element of a streamed analysis. Fallback marks the
// single terminal chunk emitted when the remote stream fails.
type StreamChunk struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

// StreamAnalysis produces an ordered, cancelable stream of text chunks for
// uc. On any remote failure the stream yields exactly one fallback chunk
// containing the degraded summary, then terminates. The returned channel
// is always closed.
func (s *Summarizer) StreamAnalysis(ctx context.Context, uc *UnifiedContext) <-chan StreamChunk {
	out := make(chan StreamChunk, 8)

	go func() {
		defer close(out)

		if s.backend == nil {
			s.emitFallback(ctx, out, &uc.Threat)
			return
		}

		rctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()

		chunks, err := s.backend.Stream(rctx, GenerationRequest{
			Prompt:      s.buildPrompt(uc),
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		})
		if err != nil {
			log.Printf("[PHI3] stream start failed, using fallback: %v", err)
			s.emitFallback(ctx, out, &uc.Threat)
			return
		}

		emitted := false
		for chunk := range chunks {
			select {
			case out <- StreamChunk{Text: chunk}:
				emitted = true
			case <-ctx.Done():
				return
			}
		}
		if rctx.Err() != nil && ctx.Err() == nil && !emitted {
			// Budget expired before anything arrived.
			s.emitFallback(ctx, out, &uc.Threat)
		}
	}()

	return out
}

func (s *Summarizer) emitFallback(ctx context.Context, out chan<- StreamChunk, t *Threat) {
	select {
	case out <- StreamChunk{Text: s.fallbackSummary(t), Fallback: true}:
	case <-ctx.Done():
	}
}

// CacheStats exposes the analysis cache counters.
func (s *Summarizer) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func extractSection(text, heading string) string {
	idx := strings.Index(text, heading)
	if idx < 0 {
		return ""
	}
	body := text[idx+len(heading):]
	if next := strings.Index(body, "\n## "); next >= 0 {
		body = body[:next]
	}
	return strings.TrimSpace(body)
}

func firstParagraph(text string) string {
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		p := strings.TrimSpace(para)
		if p != "" && !strings.HasPrefix(p, "#") {
			return p
		}
	}
	return ""
}

func extractBullets(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
				break
			}
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

// PipelineResult is the output of one full pipeline run.
type PipelineResult struct {
	Analysis *Phi3Analysis   `json:"analysis"`
	Context  *UnifiedContext `json:"context"`
	TotalMs  float64         `json:"total_ms"`
}

// Pipeline is the top-level convenience tying Layer 3 and Layer 4 together.
type Pipeline struct {
	Assembler  *ContextAssembler
	Summarizer *Summarizer
}

// Run executes assembly and summarization for t.
func (p *Pipeline) Run(ctx context.Context, t *Threat) *PipelineResult {
	start := time.Now()
	uc := p.Assembler.Assemble(ctx, t)
	analysis := p.Summarizer.Generate(ctx, uc)
	return &PipelineResult{
		Analysis: analysis,
		Context:  uc,
		TotalMs:  elapsedMs(start),
	}
}
