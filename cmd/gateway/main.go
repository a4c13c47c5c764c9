package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/neurosec-ai/cortex/pkg/archive"
	"github.com/neurosec-ai/cortex/pkg/cache"
	"github.com/neurosec-ai/cortex/pkg/cognition"
	"github.com/neurosec-ai/cortex/pkg/config"
	"github.com/neurosec-ai/cortex/pkg/httputil"
)

const Version = "0.1.0"

// Engine holds the four pipeline layers plus optional collaborators.
// Remote backends are optional and gracefully degrade to rule-based paths
// when unavailable.
type Engine struct {
	gate       *cognition.GateClassifier
	search     *cognition.SimilaritySearch
	assembler  *cognition.ContextAssembler
	summarizer *cognition.Summarizer
	pipeline   *cognition.Pipeline
	archive    *archive.Store // Optional: requires Postgres
	archiveSem *httputil.Semaphore
	config     *config.Config
}

func NewEngine(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	cfg.MustValidate()

	rules := cognition.NewRuleTablesFromDir(cfg.SeedDir)

	// Embedder: local ONNX preferred, remote service second, rule-only last.
	var embedder cognition.EmbeddingProvider
	if local := cognition.NewAutoDetectedLocalEmbedder(cfg.LocalModelPath, cfg.EmbeddingDim); local != nil {
		embedder = local
		log.Println("✓ Local embeddings enabled (hugot/ONNX)")
	} else if cfg.EmbeddingURL != "" {
		embedder = cognition.NewRemoteEmbedder(cfg.EmbeddingURL, cfg.EmbeddingDim)
		log.Printf("✓ Remote embeddings enabled (%s)", cfg.EmbeddingURL)
	} else {
		log.Println("○ Embeddings disabled (no model, no service URL)")
	}

	// Vector store: external Chroma-compatible service, else embedded.
	var store cognition.VectorBackend
	if cfg.VectorURL != "" {
		store = cognition.NewChromaBackend(cfg.VectorURL)
		log.Printf("✓ Vector store: remote (%s)", cfg.VectorURL)
	} else {
		store = cognition.NewChromemBackend()
		log.Println("✓ Vector store: embedded (chromem-go)")
	}

	// Inference service backs both the gate and the summarizer.
	var inference *cognition.InferenceClient
	if cfg.InferenceURL != "" {
		inference = cognition.NewInferenceClient(cfg.InferenceURL)
		log.Printf("✓ Inference service enabled (%s)", cfg.InferenceURL)
	} else {
		log.Println("○ Inference service disabled (rule-based paths only)")
	}

	// Caches: Redis when configured, in-memory LRU otherwise.
	var gateCache cache.Store[cognition.ThalamicOutput]
	var analysisCache cache.Store[cognition.Phi3Analysis]
	if cfg.RedisURL != "" {
		gc, gerr := cache.NewRedis[cognition.ThalamicOutput](cfg.RedisURL, "gate", cfg.GateCacheTTL)
		ac, aerr := cache.NewRedis[cognition.Phi3Analysis](cfg.RedisURL, "analysis", cfg.AnalysisCacheTTL)
		if gerr != nil || aerr != nil {
			log.Printf("○ Redis cache disabled (bad URL: %v%v)", gerr, aerr)
		} else {
			gateCache, analysisCache = gc, ac
			log.Println("✓ Redis cache enabled")
		}
	}
	if gateCache == nil {
		gateCache = cache.NewMemory[cognition.ThalamicOutput](cfg.CacheMaxEntries, cfg.GateCacheTTL)
		analysisCache = cache.NewMemory[cognition.Phi3Analysis](cfg.CacheMaxEntries, cfg.AnalysisCacheTTL)
		log.Println("✓ In-memory caches enabled")
	}

	var gateBackend cognition.GateBackend
	var genBackend cognition.GenerativeBackend
	if inference != nil {
		gateBackend = inference
		genBackend = inference
	}

	e := &Engine{config: cfg, archiveSem: httputil.NewSemaphore(cfg.CommandWindow)}
	e.gate = cognition.NewGateClassifier(gateBackend, gateCache, cfg)
	e.search = cognition.NewSimilaritySearch(embedder, store, cfg)
	e.assembler = cognition.NewContextAssembler(e.gate, e.search, rules, cfg)
	e.summarizer = cognition.NewSummarizer(genBackend, e.assembler, rules, analysisCache, cfg)
	e.pipeline = &cognition.Pipeline{Assembler: e.assembler, Summarizer: e.summarizer}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.search.EnsureCollections(ctx); err != nil {
		log.Printf("○ Collection setup incomplete: %v", err)
	}

	if cfg.PostgresURL != "" {
		arch, err := archive.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Printf("○ Analysis archive disabled (connect failed: %v)", err)
		} else {
			e.archive = arch
			log.Println("✓ Analysis archive enabled (Postgres)")
		}
	} else {
		log.Println("○ Analysis archive disabled (no Postgres URL)")
	}

	return e
}

// Analyze runs the full pipeline for one threat and archives the result.
func (e *Engine) Analyze(ctx context.Context, t *cognition.Threat) *cognition.PipelineResult {
	t.Normalize()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	result := e.pipeline.Run(ctx, t)
	if e.archive != nil {
		// Bounded fire-and-forget; a saturated archive drops writes
		// rather than backing up request handling.
		if e.archiveSem.TryAcquire() {
			go func() {
				defer e.archiveSem.Release()
				rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.archive.Record(rctx, result); err != nil {
					log.Printf("[ARCHIVE] record failed for %s: %v", result.Context.Threat.ID, err)
				}
			}()
		} else {
			log.Printf("[ARCHIVE] window full, dropping record for %s", result.Context.Threat.ID)
		}
	}
	return result
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "analyze":
		if len(os.Args) < 3 {
			fmt.Println("Usage: cortex analyze <description>")
			os.Exit(1)
		}
		runOneShot(os.Args[2])
	case "version":
		fmt.Printf("Cortex v%s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Cortex v%s - Cognitive Threat Triage Pipeline\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  cortex serve [port]           Start HTTP server (default: 8710)")
	fmt.Println("  cortex analyze <description>  Run one threat through the pipeline")
	fmt.Println("  cortex version                Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  CORTEX_INFERENCE_URL   Classification + generation service base URL")
	fmt.Println("  CORTEX_EMBEDDING_URL   Embedding service base URL")
	fmt.Println("  CORTEX_VECTOR_URL      Chroma-compatible vector store URL")
	fmt.Println("  CORTEX_REDIS_URL       Redis URL for shared caches")
	fmt.Println("  CORTEX_POSTGRES_URL    Postgres URL for the analysis archive")
	fmt.Println("  CORTEX_LOCAL_MODEL_PATH  ONNX model directory for local embeddings")
}

func runOneShot(description string) {
	engine := NewEngine(config.NewDefaultConfig())
	t := &cognition.Threat{
		Description: description,
		Source:      "cli",
		Confidence:  0.5,
	}
	result := engine.Analyze(context.Background(), t)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func runHTTPServer(port string) {
	cfg := config.NewDefaultConfig()
	if port != "" {
		cfg.ListenPort = port
	}
	engine := NewEngine(cfg)

	app := fiber.New(fiber.Config{
		AppName: "Cortex",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	// Full pipeline: classify, search, assemble, summarize.
	app.Post("/v1/analyze", func(c fiber.Ctx) error {
		var t cognition.Threat
		if err := c.Bind().Body(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if t.Description == "" {
			return c.Status(400).JSON(fiber.Map{"error": "description field is required"})
		}
		result := engine.Analyze(c.Context(), &t)
		return c.JSON(result)
	})

	// Streaming variant: newline-delimited JSON chunks.
	app.Post("/v1/analyze/stream", func(c fiber.Ctx) error {
		var t cognition.Threat
		if err := c.Bind().Body(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if t.Description == "" {
			return c.Status(400).JSON(fiber.Map{"error": "description field is required"})
		}
		t.Normalize()
		if t.ID == "" {
			t.ID = uuid.NewString()
		}

		uc := engine.assembler.Assemble(c.Context(), &t)
		chunks := engine.summarizer.StreamAnalysis(c.Context(), uc)

		c.Set("Content-Type", "application/x-ndjson")
		return c.SendStreamWriter(func(w *bufio.Writer) {
			for chunk := range chunks {
				line, err := json.Marshal(chunk)
				if err != nil {
					continue
				}
				w.Write(line)
				w.WriteByte('\n')
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
	})

	// Gate decision only, no downstream layers.
	app.Post("/v1/classify", func(c fiber.Ctx) error {
		var t cognition.Threat
		if err := c.Bind().Body(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if t.Description == "" {
			return c.Status(400).JSON(fiber.Map{"error": "description field is required"})
		}
		t.Normalize()
		return c.JSON(engine.gate.Classify(c.Context(), &t))
	})

	// Index a threat for future similarity matches.
	app.Post("/v1/threats", func(c fiber.Ctx) error {
		var t cognition.Threat
		if err := c.Bind().Body(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if t.Description == "" {
			return c.Status(400).JSON(fiber.Map{"error": "description field is required"})
		}
		t.Normalize()
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if err := engine.search.IndexThreat(c.Context(), &t); err != nil {
			return c.Status(502).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"id": t.ID, "status": "indexed"})
	})

	// Recent archived runs.
	app.Get("/v1/analyses", func(c fiber.Ctx) error {
		if engine.archive == nil {
			return c.Status(503).JSON(fiber.Map{"error": "archive not configured"})
		}
		runs, err := engine.archive.Recent(c.Context(), fiber.Query[int](c, "limit"))
		if err != nil {
			return c.Status(502).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	app.Get("/v1/stats", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"gate_cache":     engine.gate.CacheStats(),
			"analysis_cache": engine.summarizer.CacheStats(),
		})
	})

	addr := ":" + cfg.ListenPort
	log.Printf("Cortex v%s listening on %s", Version, addr)
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}
