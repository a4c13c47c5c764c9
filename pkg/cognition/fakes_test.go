package cognition

import (
	"context"
	"errors"
	"sync/atomic"
)

// fakeEmbedder returns a fixed vector, or an error when failWith is set.
type fakeEmbedder struct {
	dim      int
	failWith error
	calls    atomic.Int64
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim}
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = 0.1
	}
	return v, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

// fakeVectorStore serves canned results and counts queries.
type fakeVectorStore struct {
	results  map[string][]VectorSearchResult
	queryErr error
	queries  atomic.Int64
	added    map[string][]VectorDocument
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		results: make(map[string][]VectorSearchResult),
		added:   make(map[string][]VectorDocument),
	}
}

func (f *fakeVectorStore) EnsureCollection(_ context.Context, _ string) error { return nil }

func (f *fakeVectorStore) Query(_ context.Context, collection string, _ []float32, _ int, _ map[string]string) ([]VectorSearchResult, error) {
	f.queries.Add(1)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results[collection], nil
}

func (f *fakeVectorStore) Add(_ context.Context, collection string, docs []VectorDocument) error {
	f.added[collection] = append(f.added[collection], docs...)
	return nil
}

func (f *fakeVectorStore) Heartbeat(_ context.Context) error { return nil }

// fakeGate returns a canned output or an error.
type fakeGate struct {
	out   *ThalamicOutput
	err   error
	calls atomic.Int64
}

func (f *fakeGate) ClassifyText(_ context.Context, _ string, _ map[string]string) (*ThalamicOutput, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := *f.out
	return &out, nil
}

// fakeGenerator returns canned text or an error; Stream replays chunks.
type fakeGenerator struct {
	text      string
	chunks    []string
	err       error
	streamErr error
}

func (f *fakeGenerator) Generate(_ context.Context, _ GenerationRequest) (*GenerationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &GenerationResponse{Text: f.text, TokensUsed: 42, InferenceMs: 12.5}, nil
}

func (f *fakeGenerator) Stream(_ context.Context, _ GenerationRequest) (<-chan string, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan string, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

var errUnavailable = errors.New("backend down")
