package cognition

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend is an embedded VectorBackend backed by chromem-go. It
// keeps everything in process so the pipeline can run without an external
// vector store. Embeddings are always supplied by the caller, so the
// collection embedding func is never invoked.
type ChromemBackend struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemBackend creates an in-memory embedded backend.
func NewChromemBackend() *ChromemBackend {
	return &ChromemBackend{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistentChromemBackend creates a backend persisted under dir.
func NewPersistentChromemBackend(dir string) (*ChromemBackend, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &ChromemBackend{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (b *ChromemBackend) collection(name string) (*chromem.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	c, err := b.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	b.collections[name] = c
	return c, nil
}

// noEmbedding satisfies chromem's collection constructor; every document
// and query carries a precomputed embedding, so reaching this is a bug.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embedded store requires precomputed embeddings")
}

func (b *ChromemBackend) EnsureCollection(_ context.Context, name string) error {
	_, err := b.collection(name)
	return err
}

func (b *ChromemBackend) Query(ctx context.Context, collection string, embedding []float32, limit int, filter map[string]string) ([]VectorSearchResult, error) {
	c, err := b.collection(collection)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	res, err := c.QueryEmbedding(ctx, embedding, limit, filter, nil)
	if err != nil {
		return nil, wrapTransportError("vector", err)
	}
	out := make([]VectorSearchResult, 0, len(res))
	for _, r := range res {
		out = append(out, VectorSearchResult{
			ID:       r.ID,
			Score:    clamp01(float64(r.Similarity)),
			Document: r.Content,
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

func (b *ChromemBackend) Add(ctx context.Context, collection string, docs []VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	c, err := b.collection(collection)
	if err != nil {
		return err
	}
	converted := make([]chromem.Document, len(docs))
	for i, d := range docs {
		converted[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Document,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		}
	}
	return c.AddDocuments(ctx, converted, 1)
}

// Heartbeat always succeeds for the embedded store.
func (b *ChromemBackend) Heartbeat(_ context.Context) error {
	return nil
}
