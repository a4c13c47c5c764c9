package cognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/neurosec-ai/cortex/pkg/httputil"
)

// ChromaBackend implements VectorBackend against a Chroma-compatible REST
// API. Distances from the store are cosine-style; they are mapped to
// similarity scores as score = 1 - distance before leaving this layer.
type ChromaBackend struct {
	baseURL string
	client  *http.Client
}

// NewChromaBackend creates a backend for the vector store at baseURL.
func NewChromaBackend(baseURL string) *ChromaBackend {
	return &ChromaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.DefaultClient(),
	}
}

// EnsureCollection creates the named collection if absent; a 409 from the
// store means it already exists and is treated as success.
func (b *ChromaBackend) EnsureCollection(ctx context.Context, name string) error {
	payload, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/collections", bytes.NewReader(payload))
	if err != nil {
		return wrapTransportError("vector", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return wrapTransportError("vector", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil
	default:
		body, _ := httputil.ReadErrorBody(resp.Body)
		return wrapStatusError("vector", resp.StatusCode, body)
	}
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include"`
}

// chromaQueryResponse uses parallel arrays with one outer element per
// query embedding; we always send exactly one.
type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query returns up to limit nearest neighbors for embedding.
func (b *ChromaBackend) Query(ctx context.Context, collection string, embedding []float32, limit int, filter map[string]string) ([]VectorSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	reqBody := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        limit,
		Include:         []string{"documents", "metadatas", "distances"},
	}
	if len(filter) > 0 {
		reqBody.Where = make(map[string]any, len(filter))
		for k, v := range filter {
			reqBody.Where[k] = v
		}
	}

	body, err := b.post(ctx, fmt.Sprintf("/collections/%s/query", collection), reqBody)
	if err != nil {
		return nil, err
	}

	var qr chromaQueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, wrapDecodeError("vector", err)
	}
	if len(qr.IDs) == 0 {
		return nil, nil
	}

	ids := qr.IDs[0]
	if len(qr.Distances) == 0 || len(qr.Distances[0]) != len(ids) {
		return nil, wrapDecodeError("vector", fmt.Errorf("got %d ids with mismatched distances", len(ids)))
	}
	results := make([]VectorSearchResult, 0, len(ids))
	for i, id := range ids {
		r := VectorSearchResult{ID: id}
		r.Score = clamp01(1 - qr.Distances[0][i])
		if len(qr.Documents) > 0 && i < len(qr.Documents[0]) {
			r.Document = qr.Documents[0][i]
		}
		if len(qr.Metadatas) > 0 && i < len(qr.Metadatas[0]) {
			r.Metadata = stringifyMetadata(qr.Metadatas[0][i])
		}
		results = append(results, r)
	}
	return results, nil
}

type chromaAddRequest struct {
	IDs        []string            `json:"ids"`
	Embeddings [][]float32         `json:"embeddings"`
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]string `json:"metadatas"`
}

// Add upserts a batch of documents into the collection.
func (b *ChromaBackend) Add(ctx context.Context, collection string, docs []VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	req := chromaAddRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Documents:  make([]string, len(docs)),
		Metadatas:  make([]map[string]string, len(docs)),
	}
	for i, d := range docs {
		req.IDs[i] = d.ID
		req.Embeddings[i] = d.Embedding
		req.Documents[i] = d.Document
		req.Metadatas[i] = d.Metadata
	}
	_, err := b.post(ctx, fmt.Sprintf("/collections/%s/add", collection), req)
	return err
}

// Heartbeat probes store liveness.
func (b *ChromaBackend) Heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/heartbeat", nil)
	if err != nil {
		return wrapTransportError("vector", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return wrapTransportError("vector", err)
	}
	defer httputil.DrainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return wrapStatusError("vector", resp.StatusCode, body)
	}
	return nil
}

func (b *ChromaBackend) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapDecodeError("vector", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, wrapTransportError("vector", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, wrapTransportError("vector", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, wrapTransportError("vector", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, wrapStatusError("vector", resp.StatusCode, body)
	}
	return body, nil
}

func stringifyMetadata(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
