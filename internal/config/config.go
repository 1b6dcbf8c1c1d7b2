package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// ConfigError reports a missing or invalid configuration option. It is also
// used for runtime dimension mismatches, which are configuration faults by
// definition (the gateway and the store disagree on the embedding model).
type ConfigError struct {
	Option  string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("config: %s", e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Option, e.Message)
}

// Config holds every knob the ranking core reads at startup. Environment
// variables win over the optional CONFIG_PATH file.
type Config struct {
	// Embedding gateway
	EmbedEndpoint      string
	EmbedDim           int
	EmbedModel         string
	AllowEmbedFallback bool
	EmbedTimeout       time.Duration
	EmbedMaxInFlight   int

	// Vector store
	VectorHost        string
	VectorPort        int
	VectorCollection  string
	RetrievalTimeout  time.Duration
	RetrieveMaxInFlight int
	MaxCandidates     int

	// Ranking
	TopKDefault         int
	CandidateMultiplier int
	FusionLTRWeight     float64
	FusionConceptualWeight float64
	WeightDistance      float64
	WeightRecency       float64
	WeightMetadata      float64
	LTRTimeout          time.Duration

	// Cache
	RedisAddr       string
	CacheEnabled    bool
	QueryCacheTTL   time.Duration
	FeatureCacheTTL time.Duration
	EmbedCacheTTL   time.Duration

	// Request handling
	RequestBudget  time.Duration
	TenantRequired bool

	// Serving
	HTTPPort   int
	HealthPort int

	// Observability
	TracingEnabled bool
	OTLPEndpoint   string
	LogLevel       string

	// Model manifest (optional)
	ModelsManifestPath string
}

// Load builds the configuration from the environment, merged over the
// optional YAML file named by CONFIG_PATH.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Option: "CONFIG_PATH", Message: err.Error()}
		}
	}

	cfg := &Config{
		EmbedEndpoint:      envStr(v, "EMBED_ENDPOINT", "embed.endpoint", ""),
		EmbedDim:           envInt(v, "EMBED_DIM", "embed.dim", 0),
		EmbedModel:         envStr(v, "EMBED_MODEL", "embed.model", "all-minilm-l6-v2"),
		AllowEmbedFallback: envBool(v, "ALLOW_EMBED_FALLBACK", "embed.allow_fallback", false),
		EmbedTimeout:       envMs(v, "EMBED_TIMEOUT_MS", "embed.timeout_ms", 600*time.Millisecond),
		EmbedMaxInFlight:   envInt(v, "EMBED_MAX_INFLIGHT", "embed.max_inflight", 16),

		VectorHost:          envStr(v, "VECTOR_HOST", "vector.host", "localhost"),
		VectorPort:          envInt(v, "VECTOR_PORT", "vector.port", 6333),
		VectorCollection:    envStr(v, "VECTOR_COLLECTION", "vector.collection", "chunks"),
		RetrievalTimeout:    envMs(v, "RETRIEVAL_TIMEOUT_MS", "vector.timeout_ms", 800*time.Millisecond),
		RetrieveMaxInFlight: envInt(v, "RETRIEVE_MAX_INFLIGHT", "vector.max_inflight", 32),
		MaxCandidates:       envInt(v, "MAX_CANDIDATES", "vector.max_candidates", 200),

		TopKDefault:            envInt(v, "RAG_TOP_K_DEFAULT", "ranking.top_k_default", 10),
		CandidateMultiplier:    envInt(v, "RAG_CANDIDATE_MULTIPLIER", "ranking.candidate_multiplier", 5),
		FusionLTRWeight:        envFloat(v, "RAG_FUSION_LTR_WEIGHT", "ranking.fusion.ltr", 0.6),
		FusionConceptualWeight: envFloat(v, "RAG_FUSION_CONCEPTUAL_WEIGHT", "ranking.fusion.conceptual", 0.4),
		WeightDistance:         envFloat(v, "RAG_WEIGHT_DISTANCE", "ranking.conceptual.distance", 0.7),
		WeightRecency:          envFloat(v, "RAG_WEIGHT_RECENCY", "ranking.conceptual.recency", 0.2),
		WeightMetadata:         envFloat(v, "RAG_WEIGHT_METADATA", "ranking.conceptual.metadata", 0.1),
		LTRTimeout:             envMs(v, "LTR_TIMEOUT_MS", "ranking.ltr_timeout_ms", 100*time.Millisecond),

		RedisAddr:       envStr(v, "REDIS_ADDR", "cache.redis_addr", ""),
		QueryCacheTTL:   envSeconds(v, "CACHE_TTL_QUERY_S", "cache.ttl_query_s", 5*time.Minute),
		FeatureCacheTTL: envSeconds(v, "CACHE_TTL_FEATURE_S", "cache.ttl_feature_s", 30*time.Minute),
		EmbedCacheTTL:   envSeconds(v, "CACHE_TTL_EMBED_S", "cache.ttl_embed_s", time.Hour),

		RequestBudget:  envMs(v, "REQUEST_BUDGET_MS", "request.budget_ms", 1500*time.Millisecond),
		TenantRequired: envBool(v, "TENANT_REQUIRED", "request.tenant_required", false),

		HTTPPort:   envInt(v, "HTTP_PORT", "serve.http_port", 8080),
		HealthPort: envInt(v, "HEALTH_PORT", "serve.health_port", 8081),

		TracingEnabled: envBool(v, "TRACING_ENABLED", "tracing.enabled", false),
		OTLPEndpoint:   envStr(v, "OTLP_ENDPOINT", "tracing.otlp_endpoint", ""),
		LogLevel:       envStr(v, "LOG_LEVEL", "logging.level", "info"),

		ModelsManifestPath: envStr(v, "MODELS_MANIFEST_PATH", "models.manifest_path", ""),
	}
	cfg.CacheEnabled = cfg.RedisAddr != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the options the core cannot run without
func (c *Config) Validate() error {
	if c.EmbedEndpoint == "" {
		return &ConfigError{Option: "EMBED_ENDPOINT", Message: "required"}
	}
	if c.EmbedDim <= 0 {
		return &ConfigError{Option: "EMBED_DIM", Message: "must be a positive integer"}
	}
	if c.TopKDefault < 1 || c.TopKDefault > 100 {
		return &ConfigError{Option: "RAG_TOP_K_DEFAULT", Message: "must be in [1,100]"}
	}
	if c.MaxCandidates < 1 {
		return &ConfigError{Option: "MAX_CANDIDATES", Message: "must be at least 1"}
	}
	if c.CandidateMultiplier < 1 {
		return &ConfigError{Option: "RAG_CANDIDATE_MULTIPLIER", Message: "must be at least 1"}
	}
	if c.FusionLTRWeight < 0 || c.FusionConceptualWeight < 0 {
		return &ConfigError{Option: "RAG_FUSION_LTR_WEIGHT", Message: "fusion weights must be non-negative"}
	}
	if c.FusionLTRWeight+c.FusionConceptualWeight <= 0 {
		return &ConfigError{Option: "RAG_FUSION_LTR_WEIGHT", Message: "fusion weights must not sum to zero"}
	}
	if c.WeightDistance < 0 || c.WeightRecency < 0 || c.WeightMetadata < 0 {
		return &ConfigError{Option: "RAG_WEIGHT_DISTANCE", Message: "conceptual weights must be non-negative"}
	}
	if c.WeightDistance+c.WeightRecency+c.WeightMetadata <= 0 {
		return &ConfigError{Option: "RAG_WEIGHT_DISTANCE", Message: "conceptual weights must not sum to zero"}
	}
	return nil
}

func envStr(v *viper.Viper, envKey, fileKey, def string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if v.IsSet(fileKey) {
		return v.GetString(fileKey)
	}
	return def
}

func envInt(v *viper.Viper, envKey, fileKey string, def int) int {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	if v.IsSet(fileKey) {
		return v.GetInt(fileKey)
	}
	return def
}

func envFloat(v *viper.Viper, envKey, fileKey string, def float64) float64 {
	if val := os.Getenv(envKey); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	if v.IsSet(fileKey) {
		return v.GetFloat64(fileKey)
	}
	return def
}

func envBool(v *viper.Viper, envKey, fileKey string, def bool) bool {
	if val := os.Getenv(envKey); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	if v.IsSet(fileKey) {
		return v.GetBool(fileKey)
	}
	return def
}

func envMs(v *viper.Viper, envKey, fileKey string, def time.Duration) time.Duration {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	if v.IsSet(fileKey) {
		if n := v.GetInt(fileKey); n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func envSeconds(v *viper.Viper, envKey, fileKey string, def time.Duration) time.Duration {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if v.IsSet(fileKey) {
		if n := v.GetInt(fileKey); n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
