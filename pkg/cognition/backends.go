package cognition

import "context"

// The remote backends are modeled as one capability per interface, with a
// single production HTTP implementation each and deterministic fakes in
// tests. Nothing in the pipeline talks to the network directly.

// GateBackend performs rapid triage classification of a serialized threat.
type GateBackend interface {
	// ClassifyText classifies the serialized threat representation.
	// Implementations must honor ctx cancellation promptly: the caller
	// races the request against the layer budget.
	ClassifyText(ctx context.Context, text string, metadata map[string]string) (*ThalamicOutput, error)
}

// EmbeddingProvider converts text to a fixed-dimension vector.
type EmbeddingProvider interface {
	// Embed returns the embedding for text. The returned vector length
	// must equal Dimension(); implementations return a
	// DimensionMismatchError rather than truncate or pad.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the configured embedding dimension.
	Dimension() int
}

// VectorDocument is one item in a vector store write batch.
type VectorDocument struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]string
}

// VectorBackend is the nearest-neighbor store contract.
type VectorBackend interface {
	// EnsureCollection creates the named collection if absent.
	// "Already exists" is success, not failure.
	EnsureCollection(ctx context.Context, name string) error

	// Query returns up to limit nearest neighbors for embedding, with
	// similarity scores in [0,1] (higher = closer). filter restricts by
	// metadata equality and may be nil.
	Query(ctx context.Context, collection string, embedding []float32, limit int, filter map[string]string) ([]VectorSearchResult, error)

	// Add upserts a batch of documents into the collection.
	Add(ctx context.Context, collection string, docs []VectorDocument) error

	// Heartbeat probes store liveness.
	Heartbeat(ctx context.Context) error
}

// GenerationRequest is the input to a generative call.
type GenerationRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens"`
	Temperature   float64  `json:"temperature"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// GenerationResponse is the output of a generative call.
type GenerationResponse struct {
	Text         string  `json:"text"`
	TokensUsed   int     `json:"tokens_used"`
	InferenceMs  float64 `json:"inference_ms"`
	ModelVersion string  `json:"model_version,omitempty"`
}

// GenerativeBackend produces natural-language analyses.
type GenerativeBackend interface {
	// Generate runs one bounded completion call.
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)

	// Stream runs the same call in incremental mode. The returned channel
	// yields ordered text chunks and is closed when the stream ends; a
	// mid-stream failure closes the channel after at most one partial
	// chunk. Callers cancel via ctx.
	Stream(ctx context.Context, req GenerationRequest) (<-chan string, error)
}
