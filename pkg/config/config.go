// Package config holds global settings for the Cortex triage gateway.
// Everything is environment-driven; defaults favor a fully local setup
// where every remote backend is absent and the pipeline runs degraded.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds global settings for the Cortex gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenPort string // HTTP listen port (default: 8710)

	// === Remote Backend URLs ===
	// Empty URL disables the backend; the pipeline falls back to
	// deterministic local behavior for that layer.
	InferenceURL string // classification + generation service base URL
	EmbeddingURL string // embedding service base URL
	VectorURL    string // vector store base URL (Chroma-compatible REST)

	// === Optional Infrastructure ===
	RedisURL    string // Redis URL for the analysis cache (empty = in-memory)
	PostgresURL string // Postgres URL for the analysis archive (empty = disabled)

	// === Embedding ===
	EmbeddingDim   int    // expected embedding dimension (default: 384)
	LocalModelPath string // ONNX model dir for the offline embedder

	// === Per-Layer Timeout Budgets ===
	// These are hard budgets: expiry cancels the in-flight call and the
	// layer proceeds on its fallback path.
	GateTimeout     time.Duration // Layer 1 classification (default: 15ms)
	EmbedTimeout    time.Duration // embedding call (default: 50ms)
	VectorTimeout   time.Duration // vector store query (default: 20ms)
	GenerateTimeout time.Duration // Layer 4 generation (default: 1000ms)

	// === Caching ===
	CacheMaxEntries  int           // per-cache size bound (default: 10000)
	GateCacheTTL     time.Duration // Layer 1 result TTL (default: 60s)
	AnalysisCacheTTL time.Duration // Layer 4 result TTL (default: 24h)

	// === Similarity Search ===
	SearchLimit   int     // default nearest-neighbor limit (default: 10)
	MinSimilarity float64 // minimum score for similar threats (default: 0.7)

	// === Concurrency Windows ===
	BatchWindow   int // concurrent in-flight batch classifications (default: 10)
	CommandWindow int // concurrent generic command operations (default: 5)

	// === Generation ===
	MaxTokens   int     // token limit per generation call (default: 512)
	Temperature float64 // sampling temperature, low for determinism (default: 0.1)

	// === Convergence Scoring ===
	// Preserved as named overridable constants; the values have no
	// documented derivation and are kept as observed.
	RecencyHalfLifeHours float64 // H1 decay constant (default: 24)
	H1Weight             float64 // operational weight (default: 0.3)
	H2Weight             float64 // semantic weight (default: 0.7)

	// === Seed Data ===
	SeedDir string // directory with YAML rule tables (empty = auto-detect)
}

// Scoring defaults, exported so the scoring code and tests can reference
// the same named constants.
const (
	DefaultRecencyHalfLifeHours = 24.0
	DefaultH1Weight             = 0.3
	DefaultH2Weight             = 0.7
	DefaultEmbeddingDim         = 384
)

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenPort: GetEnv("CORTEX_PORT", "8710"),

		InferenceURL: GetEnv("CORTEX_INFERENCE_URL", ""),
		EmbeddingURL: GetEnv("CORTEX_EMBEDDING_URL", ""),
		VectorURL:    GetEnv("CORTEX_VECTOR_URL", ""),

		RedisURL:    GetEnv("CORTEX_REDIS_URL", ""),
		PostgresURL: GetEnv("CORTEX_POSTGRES_URL", ""),

		EmbeddingDim:   GetEnvInt("CORTEX_EMBEDDING_DIM", DefaultEmbeddingDim),
		LocalModelPath: GetEnv("CORTEX_LOCAL_MODEL_PATH", ""),

		GateTimeout:     msEnv("CORTEX_GATE_TIMEOUT_MS", 15),
		EmbedTimeout:    msEnv("CORTEX_EMBED_TIMEOUT_MS", 50),
		VectorTimeout:   msEnv("CORTEX_VECTOR_TIMEOUT_MS", 20),
		GenerateTimeout: msEnv("CORTEX_GENERATE_TIMEOUT_MS", 1000),

		CacheMaxEntries:  clampInt(GetEnvInt("CORTEX_CACHE_MAX_ENTRIES", 10000), 16, 1000000),
		GateCacheTTL:     secEnv("CORTEX_GATE_CACHE_TTL_SECONDS", 60),
		AnalysisCacheTTL: secEnv("CORTEX_ANALYSIS_CACHE_TTL_SECONDS", 24*3600),

		SearchLimit:   clampInt(GetEnvInt("CORTEX_SEARCH_LIMIT", 10), 1, 100),
		MinSimilarity: GetEnvFloat("CORTEX_MIN_SIMILARITY", 0.7),

		BatchWindow:   clampInt(GetEnvInt("CORTEX_BATCH_WINDOW", 10), 1, 100),
		CommandWindow: clampInt(GetEnvInt("CORTEX_COMMAND_WINDOW", 5), 1, 100),

		MaxTokens:   GetEnvInt("CORTEX_MAX_TOKENS", 512),
		Temperature: GetEnvFloat("CORTEX_TEMPERATURE", 0.1),

		RecencyHalfLifeHours: GetEnvFloat("CORTEX_RECENCY_HALF_LIFE_HOURS", DefaultRecencyHalfLifeHours),
		H1Weight:             GetEnvFloat("CORTEX_H1_WEIGHT", DefaultH1Weight),
		H2Weight:             GetEnvFloat("CORTEX_H2_WEIGHT", DefaultH2Weight),

		SeedDir: GetEnv("CORTEX_SEED_DIR", ""),
	}
}

// NewLocalConfig creates a Config for fully offline operation: no remote
// backends, embedded vector store, rule-based classification and summaries.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.InferenceURL = ""
	cfg.EmbeddingURL = ""
	cfg.VectorURL = ""
	cfg.RedisURL = ""
	cfg.PostgresURL = ""
	return cfg
}

// Validate checks configuration consistency. Misconfigured weights are a
// silent-scoring hazard, so they fail hard rather than warn.
func (c *Config) Validate() error {
	var problems []string

	if c.EmbeddingDim <= 0 {
		problems = append(problems, "embedding dimension must be positive")
	}
	if c.H1Weight < 0 || c.H2Weight < 0 {
		problems = append(problems, "GLAF weights must be non-negative")
	}
	if sum := c.H1Weight + c.H2Weight; sum < 0.999 || sum > 1.001 {
		problems = append(problems, fmt.Sprintf("GLAF weights must sum to 1.0 (got %.3f)", sum))
	}
	if c.RecencyHalfLifeHours <= 0 {
		problems = append(problems, "recency half-life must be positive")
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		problems = append(problems, "minimum similarity must be in [0,1]")
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"gate", c.GateTimeout},
		{"embed", c.EmbedTimeout},
		{"vector", c.VectorTimeout},
		{"generate", c.GenerateTimeout},
	} {
		if t.d <= 0 {
			problems = append(problems, t.name+" timeout must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before serving.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

func msEnv(key string, defaultMs int) time.Duration {
	return time.Duration(GetEnvInt(key, defaultMs)) * time.Millisecond
}

func secEnv(key string, defaultSec int) time.Duration {
	return time.Duration(GetEnvInt(key, defaultSec)) * time.Second
}

// clampInt ensures a value is within bounds.
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
