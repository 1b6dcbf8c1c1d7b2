package config

import (
	"errors"
	"testing"
	"time"
)

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EMBED_ENDPOINT", "http://localhost:9901/embed")
	t.Setenv("EMBED_DIM", "384")
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TopKDefault != 10 {
		t.Errorf("TopKDefault = %d, want 10", cfg.TopKDefault)
	}
	if cfg.CandidateMultiplier != 5 {
		t.Errorf("CandidateMultiplier = %d, want 5", cfg.CandidateMultiplier)
	}
	if cfg.RequestBudget != 1500*time.Millisecond {
		t.Errorf("RequestBudget = %v, want 1.5s", cfg.RequestBudget)
	}
	if cfg.FusionLTRWeight != 0.6 || cfg.FusionConceptualWeight != 0.4 {
		t.Errorf("fusion weights = %v/%v, want 0.6/0.4", cfg.FusionLTRWeight, cfg.FusionConceptualWeight)
	}
	if cfg.CacheEnabled {
		t.Error("cache should be disabled without REDIS_ADDR")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	baseEnv(t)
	t.Setenv("RAG_TOP_K_DEFAULT", "25")
	t.Setenv("CACHE_TTL_QUERY_S", "60")
	t.Setenv("ALLOW_EMBED_FALLBACK", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("TENANT_REQUIRED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TopKDefault != 25 {
		t.Errorf("TopKDefault = %d, want 25", cfg.TopKDefault)
	}
	if cfg.QueryCacheTTL != time.Minute {
		t.Errorf("QueryCacheTTL = %v, want 1m", cfg.QueryCacheTTL)
	}
	if !cfg.AllowEmbedFallback {
		t.Error("AllowEmbedFallback should be true")
	}
	if !cfg.CacheEnabled {
		t.Error("cache should be enabled with REDIS_ADDR")
	}
	if !cfg.TenantRequired {
		t.Error("TenantRequired should be true")
	}
}

func TestLoadMissingEndpoint(t *testing.T) {
	t.Setenv("EMBED_ENDPOINT", "")
	t.Setenv("EMBED_DIM", "384")

	_, err := Load()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Option != "EMBED_ENDPOINT" {
		t.Errorf("Option = %q, want EMBED_ENDPOINT", ce.Option)
	}
}

func TestValidateZeroSumWeights(t *testing.T) {
	baseEnv(t)
	t.Setenv("RAG_FUSION_LTR_WEIGHT", "0")
	t.Setenv("RAG_FUSION_CONCEPTUAL_WEIGHT", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected zero-sum fusion weights to be rejected")
	}
}

func TestValidateBadDim(t *testing.T) {
	t.Setenv("EMBED_ENDPOINT", "http://localhost:9901/embed")
	t.Setenv("EMBED_DIM", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected EMBED_DIM=0 to be rejected")
	}
}
