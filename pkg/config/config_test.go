package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.GateTimeout != 15*time.Millisecond {
		t.Errorf("GateTimeout = %v, want 15ms", cfg.GateTimeout)
	}
	if cfg.GenerateTimeout != 1000*time.Millisecond {
		t.Errorf("GenerateTimeout = %v, want 1s", cfg.GenerateTimeout)
	}
	if cfg.EmbeddingDim != 384 {
		t.Errorf("EmbeddingDim = %d, want 384", cfg.EmbeddingDim)
	}
	if cfg.GateCacheTTL != 60*time.Second {
		t.Errorf("GateCacheTTL = %v, want 60s", cfg.GateCacheTTL)
	}
	if cfg.AnalysisCacheTTL != 24*time.Hour {
		t.Errorf("AnalysisCacheTTL = %v, want 24h", cfg.AnalysisCacheTTL)
	}
	if cfg.MinSimilarity != 0.7 {
		t.Errorf("MinSimilarity = %v, want 0.7", cfg.MinSimilarity)
	}
	if cfg.H1Weight != 0.3 || cfg.H2Weight != 0.7 {
		t.Errorf("weights = %v/%v, want 0.3/0.7", cfg.H1Weight, cfg.H2Weight)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CORTEX_GATE_TIMEOUT_MS", "100")
	t.Setenv("CORTEX_SEARCH_LIMIT", "25")
	t.Setenv("CORTEX_MIN_SIMILARITY", "0.85")
	t.Setenv("CORTEX_INFERENCE_URL", "http://inference:9000")

	cfg := NewDefaultConfig()
	if cfg.GateTimeout != 100*time.Millisecond {
		t.Errorf("GateTimeout = %v", cfg.GateTimeout)
	}
	if cfg.SearchLimit != 25 {
		t.Errorf("SearchLimit = %d", cfg.SearchLimit)
	}
	if cfg.MinSimilarity != 0.85 {
		t.Errorf("MinSimilarity = %v", cfg.MinSimilarity)
	}
	if cfg.InferenceURL != "http://inference:9000" {
		t.Errorf("InferenceURL = %s", cfg.InferenceURL)
	}
}

func TestEnvClamping(t *testing.T) {
	t.Setenv("CORTEX_SEARCH_LIMIT", "5000")
	t.Setenv("CORTEX_BATCH_WINDOW", "0")

	cfg := NewDefaultConfig()
	if cfg.SearchLimit != 100 {
		t.Errorf("SearchLimit = %d, want clamped to 100", cfg.SearchLimit)
	}
	if cfg.BatchWindow != 1 {
		t.Errorf("BatchWindow = %d, want clamped to 1", cfg.BatchWindow)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.H1Weight = 0.5
	cfg.H2Weight = 0.6

	err := cfg.Validate()
	if err == nil {
		t.Fatal("weights summing to 1.1 must fail validation")
	}
	if !strings.Contains(err.Error(), "GLAF weights") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.GenerateTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero timeout must fail validation")
	}
}

func TestValidateRejectsBadSimilarity(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MinSimilarity = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("similarity above 1 must fail validation")
	}
}

func TestLocalConfigDisablesRemotes(t *testing.T) {
	t.Setenv("CORTEX_INFERENCE_URL", "http://somewhere")
	cfg := NewLocalConfig()
	if cfg.InferenceURL != "" || cfg.VectorURL != "" || cfg.RedisURL != "" {
		t.Error("local config must clear all remote URLs")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("local config must validate: %v", err)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CORTEX_TEST_STR", "value")
	t.Setenv("CORTEX_TEST_INT", "42")
	t.Setenv("CORTEX_TEST_FLOAT", "0.25")
	t.Setenv("CORTEX_TEST_BOOL", "true")
	t.Setenv("CORTEX_TEST_BAD_INT", "not-a-number")

	if got := GetEnv("CORTEX_TEST_STR", "d"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("CORTEX_TEST_UNSET", "d"); got != "d" {
		t.Errorf("GetEnv default = %q", got)
	}
	if got := GetEnvInt("CORTEX_TEST_INT", 0); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("CORTEX_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt on garbage = %d, want default", got)
	}
	if got := GetEnvFloat("CORTEX_TEST_FLOAT", 0); got != 0.25 {
		t.Errorf("GetEnvFloat = %v", got)
	}
	if !GetEnvBool("CORTEX_TEST_BOOL", false) {
		t.Error("GetEnvBool = false, want true")
	}
}
