package cognition

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/neurosec-ai/cortex/pkg/httputil"
)

// RemoteEmbedder implements EmbeddingProvider against the embedding
// service's HTTP API (POST /embed). The returned vector length must equal
// the configured dimension exactly; a mismatch means the service is
// running the wrong model for this collection and must propagate as a
// hard error, never be truncated or padded away.
type RemoteEmbedder struct {
	baseURL   string
	dimension int
	client    *http.Client

	mu           sync.Mutex
	totalCalls   int64
	totalLatency time.Duration
}

// NewRemoteEmbedder creates an embedder for the service at baseURL
// producing dimension-length vectors.
func NewRemoteEmbedder(baseURL string, dimension int) *RemoteEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &RemoteEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		dimension: dimension,
		client:    httputil.DefaultClient(),
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding for text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	payload, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, wrapDecodeError("embed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, wrapTransportError("embed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, wrapTransportError("embed", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, wrapTransportError("embed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapStatusError("embed", resp.StatusCode, body)
	}

	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, wrapDecodeError("embed", err)
	}
	if len(er.Embedding) != e.dimension {
		return nil, &DimensionMismatchError{Got: len(er.Embedding), Want: e.dimension}
	}

	e.mu.Lock()
	e.totalCalls++
	e.totalLatency += time.Since(start)
	e.mu.Unlock()

	return er.Embedding, nil
}

// Dimension returns the configured embedding dimension.
func (e *RemoteEmbedder) Dimension() int {
	return e.dimension
}

// Stats returns embedder statistics.
func (e *RemoteEmbedder) Stats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	avgLatency := time.Duration(0)
	if e.totalCalls > 0 {
		avgLatency = e.totalLatency / time.Duration(e.totalCalls)
	}
	return map[string]any{
		"dimension":      e.dimension,
		"total_calls":    e.totalCalls,
		"avg_latency_ms": avgLatency.Milliseconds(),
	}
}
