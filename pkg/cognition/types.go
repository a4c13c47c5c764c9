// Package cognition implements the four-layer threat triage pipeline:
// gate classification (thalamus), similarity search, context assembly,
// and generative summarization (phi3). Every remote backend is optional
// and the pipeline degrades to deterministic rule-based output when one
// is slow, unreachable, or returns garbage.
package cognition

import (
	"regexp"
	"time"
)

// ThreatLevel is the reported severity of an incoming observation.
type ThreatLevel string

const (
	LevelLow      ThreatLevel = "low"
	LevelMedium   ThreatLevel = "medium"
	LevelHigh     ThreatLevel = "high"
	LevelCritical ThreatLevel = "critical"
)

// Threat is the unit of work entering the pipeline. It is created by an
// external ingestion source and treated as immutable once submitted.
type Threat struct {
	ID          string      `json:"id"`
	Level       ThreatLevel `json:"level"`
	Description string      `json:"description"`
	Source      string      `json:"source"`
	Target      string      `json:"target,omitempty"`
	Confidence  float64     `json:"confidence"`
	Mitre       []string    `json:"mitre,omitempty"`
	Indicators  []string    `json:"indicators,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Normalize clamps confidence into [0,1] and fills defaulted fields.
// Call this once at ingestion, before the threat enters the pipeline.
func (t *Threat) Normalize() {
	if t.Confidence < 0 {
		t.Confidence = 0
	}
	if t.Confidence > 1 {
		t.Confidence = 1
	}
	if t.Level == "" {
		t.Level = LevelMedium
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
}

// GateDecision is the binary choice between cheap reflexive handling and
// full multi-stage processing.
type GateDecision string

const (
	GateReflexive      GateDecision = "reflexive"
	GateFullProcessing GateDecision = "full_processing"
)

// Pathway routes a threat to a downstream processing track.
type Pathway string

const (
	PathwayThreatAnalysis Pathway = "threat_analysis"
	PathwayOperational    Pathway = "operational"
	PathwayInformational  Pathway = "informational"
	PathwayCreative       Pathway = "creative"
)

// Priority mirrors ThreatLevel but is a separate type: the classifier may
// escalate or downgrade relative to the reported level.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Activated domain tags produced by the gate classifier.
const (
	DomainTechniqueMapping = "technique_mapping"
	DomainIncidentResponse = "incident_response"
	DomainDetection        = "detection"
)

// ThalamicOutput is the Layer 1 gate decision.
type ThalamicOutput struct {
	GateDecision     GateDecision `json:"gate_decision"`
	Pathway          Pathway      `json:"pathway"`
	Priority         Priority     `json:"priority"`
	ActivatedDomains []string     `json:"activated_domains"`
	InferenceMs      float64      `json:"inference_ms"`
	ModelVersion     string       `json:"model_version,omitempty"`
}

// Valid reports whether the output satisfies the gate contract. Remote
// responses that fail this check are treated as malformed and replaced by
// the rule-based fallback.
func (o *ThalamicOutput) Valid() bool {
	if o == nil {
		return false
	}
	switch o.GateDecision {
	case GateReflexive, GateFullProcessing:
	default:
		return false
	}
	switch o.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return false
	}
	return len(o.ActivatedDomains) > 0 && o.InferenceMs >= 0
}

// VectorSearchResult is one nearest-neighbor hit. Score is a similarity in
// [0,1] where higher means closer; for cosine-style indices it is derived
// as 1 - distance.
type VectorSearchResult struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Document string            `json:"document,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GlafScores are the convergence metrics for a threat: H1 measures temporal
// recency, H2 measures corroboration by historical matches.
type GlafScores struct {
	H1Operational      float64 `json:"h1_operational"`
	H2Semantic         float64 `json:"h2_semantic"`
	Combined           float64 `json:"combined"`
	FragmentCount      int     `json:"fragment_count,omitempty"`
	MatroidIndependent bool    `json:"matroid_independent"`
}

// MitreContext is an enriched technique reference.
type MitreContext struct {
	TechniqueID   string   `json:"technique_id"`
	TechniqueName string   `json:"technique_name"`
	Tactic        string   `json:"tactic"`
	Description   string   `json:"description"`
	Detection     string   `json:"detection,omitempty"`
	Mitigations   []string `json:"mitigations,omitempty"`
}

// UnifiedContext is the Layer 3 output and Layer 4 input. When the gate
// decision is reflexive, SimilarThreats and the vector-derived parts of
// MitreContext may be empty.
type UnifiedContext struct {
	Threat         Threat               `json:"threat"`
	Thalamic       ThalamicOutput       `json:"thalamic"`
	SimilarThreats []VectorSearchResult `json:"similar_threats"`
	GNNEmbedding   []float32            `json:"gnn_embedding,omitempty"`
	GlafScores     GlafScores           `json:"glaf_scores"`
	MitreContext   []MitreContext       `json:"mitre_context"`
}

// Phi3Analysis is the Layer 4 output. Summary and Recommendations are
// always non-empty, even on the fully degraded path.
type Phi3Analysis struct {
	Summary           string   `json:"summary"`
	Recommendations   []string `json:"recommendations"`
	RelatedTechniques []string `json:"related_techniques,omitempty"`
	Confidence        float64  `json:"confidence"`
	InferenceMs       float64  `json:"inference_ms"`
	TokenCount        int      `json:"token_count"`
}

// TechniqueIDPattern matches MITRE ATT&CK technique ids (T#### or T####.###).
var TechniqueIDPattern = regexp.MustCompile(`\bT\d{4}(?:\.\d{3})?\b`)

// IsTechniqueID reports whether s is exactly one technique id.
func IsTechniqueID(s string) bool {
	m := TechniqueIDPattern.FindString(s)
	return m == s && m != ""
}
