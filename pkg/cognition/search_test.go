package cognition

import (
	"context"
	"testing"
)

func newTestSearch(emb *fakeEmbedder, store *fakeVectorStore) *SimilaritySearch {
	return NewSimilaritySearch(emb, store, testConfig())
}

func TestQueryFiltersBelowMinScore(t *testing.T) {
	store := newFakeVectorStore()
	store.results[CollectionThreats] = []VectorSearchResult{
		{ID: "a", Score: 0.91},
		{ID: "b", Score: 0.65},
		{ID: "c", Score: 0.70},
	}
	s := newTestSearch(newFakeEmbedder(384), store)

	results, err := s.FindSimilarThreats(context.Background(), sqliThreat())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 above min score", len(results))
	}
	for _, r := range results {
		if r.Score < 0.7 {
			t.Errorf("result %s below threshold: %v", r.ID, r.Score)
		}
	}
}

func TestQueryEmbedFailureReturnsEmptyNotError(t *testing.T) {
	emb := newFakeEmbedder(384)
	emb.failWith = errUnavailable
	store := newFakeVectorStore()
	store.results[CollectionThreats] = []VectorSearchResult{{ID: "a", Score: 0.9}}
	s := newTestSearch(emb, store)

	results, err := s.FindSimilarThreats(context.Background(), sqliThreat())
	if err != nil {
		t.Fatalf("embed failure must not surface as error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want empty on embed failure", len(results))
	}
	if store.queries.Load() != 0 {
		t.Errorf("store queried despite embed failure")
	}
}

func TestQueryNilEmbedderReturnsEmptyNotPanic(t *testing.T) {
	store := newFakeVectorStore()
	store.results[CollectionThreats] = []VectorSearchResult{{ID: "a", Score: 0.9}}
	s := NewSimilaritySearch(nil, store, testConfig())

	results, err := s.FindSimilarThreats(context.Background(), sqliThreat())
	if err != nil {
		t.Fatalf("missing embedder must not surface as error, got %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("got %v, want empty non-nil slice without an embedder", results)
	}
	if store.queries.Load() != 0 {
		t.Errorf("store queried despite missing embedder")
	}
}

func TestIndexThreatNilEmbedderSkipsDocument(t *testing.T) {
	store := newFakeVectorStore()
	s := NewSimilaritySearch(nil, store, testConfig())

	if err := s.IndexThreat(context.Background(), sqliThreat()); err != nil {
		t.Fatalf("indexing without an embedder must degrade, got %v", err)
	}
	if len(store.added[CollectionThreats]) != 0 {
		t.Errorf("document stored without an embedding")
	}
}

func TestQueryStoreFailureReturnsEmptyNotError(t *testing.T) {
	store := newFakeVectorStore()
	store.queryErr = errUnavailable
	s := newTestSearch(newFakeEmbedder(384), store)

	results, err := s.FindSimilarThreats(context.Background(), sqliThreat())
	if err != nil {
		t.Fatalf("store failure must not surface as error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want empty on store failure", len(results))
	}
}

func TestQueryDimensionMismatchPropagates(t *testing.T) {
	emb := newFakeEmbedder(384)
	emb.failWith = &DimensionMismatchError{Got: 768, Want: 384}
	s := newTestSearch(emb, newFakeVectorStore())

	_, err := s.FindSimilarThreats(context.Background(), sqliThreat())
	if !IsDimensionMismatch(err) {
		t.Fatalf("dimension mismatch must propagate, got %v", err)
	}
}

func TestRelatedTechniquesKeepLooseMatches(t *testing.T) {
	store := newFakeVectorStore()
	store.results[CollectionTechniques] = []VectorSearchResult{
		{ID: "x", Score: 0.2},
	}
	s := newTestSearch(newFakeEmbedder(384), store)

	results, err := s.FindRelatedTechniques(context.Background(), sqliThreat())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("technique search must not apply min score, got %d results", len(results))
	}
}

func TestAddDocumentsEmbedsAndAssignsIds(t *testing.T) {
	store := newFakeVectorStore()
	s := newTestSearch(newFakeEmbedder(384), store)

	docs := []VectorDocument{
		{Document: "first"},
		{ID: "given", Document: "second"},
	}
	if err := s.AddDocuments(context.Background(), CollectionThreats, docs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	added := store.added[CollectionThreats]
	if len(added) != 2 {
		t.Fatalf("got %d added docs, want 2", len(added))
	}
	if added[0].ID == "" {
		t.Error("missing generated id")
	}
	if added[1].ID != "given" {
		t.Errorf("id = %s, want given", added[1].ID)
	}
	for _, d := range added {
		if len(d.Embedding) != 384 {
			t.Errorf("doc %s embedding length = %d", d.ID, len(d.Embedding))
		}
	}
}

func TestIndexThreatCarriesMetadata(t *testing.T) {
	store := newFakeVectorStore()
	s := newTestSearch(newFakeEmbedder(384), store)

	threat := sqliThreat()
	if err := s.IndexThreat(context.Background(), threat); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	added := store.added[CollectionThreats]
	if len(added) != 1 {
		t.Fatalf("got %d docs, want 1", len(added))
	}
	if added[0].ID != threat.ID {
		t.Errorf("id = %s, want %s", added[0].ID, threat.ID)
	}
	if added[0].Metadata["level"] != "critical" {
		t.Errorf("level metadata = %s", added[0].Metadata["level"])
	}
}
