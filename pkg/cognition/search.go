package cognition

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurosec-ai/cortex/pkg/config"
)

// Collection names used by the search layer.
const (
	CollectionThreats    = "threat_history"
	CollectionTechniques = "mitre_techniques"
	CollectionDetections = "detection_rules"
)

// SimilaritySearch is the retrieval layer over an embedding provider and a
// vector backend. Backend failures degrade to empty result sets so the
// pipeline keeps moving; the only error that escapes is a dimension
// mismatch, which indicates a deployment bug rather than a transient fault.
type SimilaritySearch struct {
	embedder EmbeddingProvider
	store    VectorBackend
	cfg      *config.Config
}

// NewSimilaritySearch wires the retrieval layer.
func NewSimilaritySearch(embedder EmbeddingProvider, store VectorBackend, cfg *config.Config) *SimilaritySearch {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &SimilaritySearch{embedder: embedder, store: store, cfg: cfg}
}

// EnsureCollections creates the three pipeline collections.
func (s *SimilaritySearch) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{CollectionThreats, CollectionTechniques, CollectionDetections} {
		if err := s.store.EnsureCollection(ctx, name); err != nil {
			return fmt.Errorf("ensure %s: %w", name, err)
		}
	}
	return nil
}

// Query embeds text and searches collection, filtering below minScore.
// Transient embedding or store failures return an empty slice; a
// DimensionMismatchError propagates.
func (s *SimilaritySearch) Query(ctx context.Context, collection, text string, limit int, minScore float64, filter map[string]string) ([]VectorSearchResult, error) {
	// No embedder configured at all (offline mode without a local model)
	// behaves like an embedding service that is down.
	if s.embedder == nil {
		return []VectorSearchResult{}, nil
	}
	embCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	embedding, err := s.embedder.Embed(embCtx, text)
	cancel()
	if err != nil {
		if IsDimensionMismatch(err) {
			return nil, err
		}
		log.Printf("[SEARCH] embed failed, returning empty set: %v", err)
		return []VectorSearchResult{}, nil
	}

	qCtx, cancel := context.WithTimeout(ctx, s.cfg.VectorTimeout)
	defer cancel()
	raw, err := s.store.Query(qCtx, collection, embedding, limit, filter)
	if err != nil {
		log.Printf("[SEARCH] query %s failed, returning empty set: %v", collection, err)
		return []VectorSearchResult{}, nil
	}

	results := make([]VectorSearchResult, 0, len(raw))
	for _, r := range raw {
		if r.Score >= minScore {
			results = append(results, r)
		}
	}
	return results, nil
}

// FindSimilarThreats searches historical threats resembling t.
func (s *SimilaritySearch) FindSimilarThreats(ctx context.Context, t *Threat) ([]VectorSearchResult, error) {
	return s.Query(ctx, CollectionThreats, threatQueryText(t), s.cfg.SearchLimit, s.cfg.MinSimilarity, nil)
}

// FindRelatedTechniques searches the technique corpus for entries related
// to the threat description. No minimum score: technique context is
// advisory and even loose matches are useful downstream.
func (s *SimilaritySearch) FindRelatedTechniques(ctx context.Context, t *Threat) ([]VectorSearchResult, error) {
	return s.Query(ctx, CollectionTechniques, threatQueryText(t), s.cfg.SearchLimit, 0, nil)
}

// FindDetectionRules searches stored detection rules matching the threat.
func (s *SimilaritySearch) FindDetectionRules(ctx context.Context, t *Threat) ([]VectorSearchResult, error) {
	return s.Query(ctx, CollectionDetections, threatQueryText(t), s.cfg.SearchLimit, s.cfg.MinSimilarity, nil)
}

// AddDocuments embeds and upserts raw documents into a collection.
// Documents without an ID get a fresh UUID.
func (s *SimilaritySearch) AddDocuments(ctx context.Context, collection string, docs []VectorDocument) error {
	prepared := make([]VectorDocument, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if len(d.Embedding) == 0 {
			if s.embedder == nil {
				log.Printf("[SEARCH] no embedder configured, skipping %s", d.ID)
				continue
			}
			embCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
			emb, err := s.embedder.Embed(embCtx, d.Document)
			cancel()
			if err != nil {
				if IsDimensionMismatch(err) {
					return err
				}
				log.Printf("[SEARCH] embed for index failed, skipping %s: %v", d.ID, err)
				continue
			}
			d.Embedding = emb
		}
		prepared = append(prepared, d)
	}
	if len(prepared) == 0 {
		return nil
	}
	return s.store.Add(ctx, collection, prepared)
}

// IndexThreat stores a processed threat in the history collection so later
// threats can match against it.
func (s *SimilaritySearch) IndexThreat(ctx context.Context, t *Threat) error {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	doc := VectorDocument{
		ID:       id,
		Document: threatQueryText(t),
		Metadata: map[string]string{
			"level":     string(t.Level),
			"source":    t.Source,
			"timestamp": t.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	return s.AddDocuments(ctx, CollectionThreats, []VectorDocument{doc})
}

// threatQueryText builds the canonical embedding text for a threat.
func threatQueryText(t *Threat) string {
	parts := []string{string(t.Level), t.Description}
	if len(t.Mitre) > 0 {
		parts = append(parts, strings.Join(t.Mitre, " "))
	}
	return strings.Join(parts, " | ")
}
