package cognition

// local_embedder.go - offline embedding via Hugot/ONNX
//
// When no remote embedding service is configured, similarity search can
// still run against a local MiniLM feature-extraction model (384-dim,
// matching the default collection dimension). The embedder degrades
// gracefully: if no model directory is found it is simply absent and the
// search layer returns empty results.

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultLocalModelPath is where the MiniLM model is expected when no
// explicit path is configured.
const DefaultLocalModelPath = "./models/minilm"

// LocalEmbedder implements EmbeddingProvider with a local ONNX
// feature-extraction pipeline.
type LocalEmbedder struct {
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	dimension int
	mu        sync.RWMutex
	ready     bool
}

// NewLocalEmbedder creates an embedder from an ONNX model directory.
// onnxLibPath may be empty, in which case the pure-Go backend is used.
func NewLocalEmbedder(modelPath, onnxLibPath string, dimension int) (*LocalEmbedder, error) {
	if dimension <= 0 {
		dimension = 384
	}
	if _, err := os.Stat(filepath.Join(modelPath, "model.onnx")); err != nil {
		return nil, fmt.Errorf("no ONNX model at %s: %w", modelPath, err)
	}

	var session *hugot.Session
	var err error
	if onnxLibPath != "" {
		session, err = hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibPath))
	} else {
		session, err = hugot.NewGoSession()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	cfg := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "cortex-local-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, cfg)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	log.Printf("[EMBEDDER] local ONNX embedder initialized (model: %s, dim: %d)", modelPath, dimension)
	return &LocalEmbedder{
		session:   session,
		pipeline:  pipeline,
		dimension: dimension,
		ready:     true,
	}, nil
}

// NewAutoDetectedLocalEmbedder tries the configured path, then the default
// location. Returns nil if no model is available.
func NewAutoDetectedLocalEmbedder(modelPath string, dimension int) *LocalEmbedder {
	paths := []string{}
	if modelPath != "" {
		paths = append(paths, modelPath)
	}
	paths = append(paths, DefaultLocalModelPath)

	for _, p := range paths {
		emb, err := NewLocalEmbedder(p, getDefaultOnnxPath(), dimension)
		if err == nil {
			return emb
		}
	}
	return nil
}

// Embed returns the embedding for text, enforcing the configured dimension.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready {
		return nil, fmt.Errorf("local embedder: %w", ErrServiceUnavailable)
	}

	out, err := e.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("local embedder: %w: %v", ErrServiceUnavailable, err)
	}
	if len(out.Embeddings) == 0 {
		return nil, wrapDecodeError("local embedder", fmt.Errorf("no embedding produced"))
	}
	emb := out.Embeddings[0]
	if len(emb) != e.dimension {
		return nil, &DimensionMismatchError{Got: len(emb), Want: e.dimension}
	}
	return emb, nil
}

// Dimension returns the configured embedding dimension.
func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

// IsReady reports whether the pipeline initialized successfully.
func (e *LocalEmbedder) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Close destroys the underlying session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// getDefaultOnnxPath returns the ONNX Runtime library directory for the
// current platform, or empty to use the pure-Go backend.
func getDefaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}
