package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fathomlabs/fathom/internal/cache"
	"github.com/fathomlabs/fathom/internal/circuitbreaker"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/embeddings"
	"github.com/fathomlabs/fathom/internal/health"
	"github.com/fathomlabs/fathom/internal/httpapi"
	"github.com/fathomlabs/fathom/internal/pipeline"
	"github.com/fathomlabs/fathom/internal/registry"
	"github.com/fathomlabs/fathom/internal/tracing"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "fathom-ranker",
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	// Cache: local LRU layered over Redis when configured, local only
	// otherwise. The service runs without any cache at all.
	var store cache.Store = cache.NewLocal(4096)
	var redisCache *cache.Redis
	if cfg.CacheEnabled {
		redisCache, err = cache.NewRedis(cfg.RedisAddr, logger)
		if err != nil {
			logger.Warn("Redis unavailable, serving from local cache only",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			store = cache.NewTiered(store, redisCache, 30*time.Second)
			defer redisCache.Close()
		}
	}

	reg, err := registry.New(registry.Options{
		EmbeddingModel: cfg.EmbedModel,
		EmbeddingDim:   cfg.EmbedDim,
		Weights: registry.WeightSet{
			Fusion: map[string]float64{
				"ltr":        cfg.FusionLTRWeight,
				"conceptual": cfg.FusionConceptualWeight,
			},
			Conceptual: map[string]float64{
				"distance": cfg.WeightDistance,
				"recency":  cfg.WeightRecency,
				"metadata": cfg.WeightMetadata,
			},
		},
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build model registry", zap.Error(err))
	}

	if cfg.ModelsManifestPath != "" {
		manifest, err := registry.LoadManifest(cfg.ModelsManifestPath)
		if err != nil {
			logger.Fatal("Failed to load model manifest",
				zap.String("path", cfg.ModelsManifestPath), zap.Error(err))
		}
		if err := reg.Apply(manifest); err != nil {
			logger.Fatal("Failed to apply model manifest", zap.Error(err))
		}
		if err := reg.Watch(ctx, cfg.ModelsManifestPath, logger); err != nil {
			logger.Warn("Manifest hot reload disabled", zap.Error(err))
		}
	}

	gateway := embeddings.NewGateway(embeddings.Config{
		Endpoint:      cfg.EmbedEndpoint,
		Dim:           cfg.EmbedDim,
		AllowFallback: cfg.AllowEmbedFallback,
		Timeout:       cfg.EmbedTimeout,
		MaxInFlight:   cfg.EmbedMaxInFlight,
		CacheTTL:      cfg.EmbedCacheTTL,
	}, store, logger)

	retriever := vectordb.NewClient(vectordb.Config{
		Host:          cfg.VectorHost,
		Port:          cfg.VectorPort,
		Collection:    cfg.VectorCollection,
		Timeout:       cfg.RetrievalTimeout,
		MaxCandidates: cfg.MaxCandidates,
		MaxInFlight:   cfg.RetrieveMaxInFlight,
		ExpectedDim:   cfg.EmbedDim,
	}, logger)

	orchestrator := pipeline.NewOrchestrator(cfg, reg, gateway, retriever, store, logger)

	// Health endpoints come up first so probes respond during startup
	healthManager := health.NewManager(logger)
	healthManager.Register(health.NewProbeChecker("embed-gateway", true, gateway))
	healthManager.Register(health.NewProbeChecker("vector-store", true, retriever))
	if redisCache != nil {
		healthManager.Register(health.NewPingChecker("cache", false, func(ctx context.Context) error {
			if !redisCache.Healthy(ctx) {
				return fmt.Errorf("redis ping failed")
			}
			return nil
		}))
	}
	healthManager.Start(ctx)
	defer healthManager.Stop()

	healthMux := http.NewServeMux()
	health.NewHTTPHandler(healthManager, logger).RegisterRoutes(healthMux)
	healthMux.Handle("/metrics", promhttp.Handler())
	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Health server listening", zap.Int("port", cfg.HealthPort))
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed", zap.Error(err))
		}
	}()

	apiMux := http.NewServeMux()
	httpapi.NewQueryHandler(orchestrator, logger).RegisterRoutes(apiMux)
	httpapi.NewWeightsHandler(reg, logger).RegisterRoutes(apiMux)
	httpapi.NewIntrospectHandler(reg, cacheProbe{redisCache}, nil, logger).RegisterRoutes(apiMux)
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           apiMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.HTTPPort))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	cancel()
}

// cacheProbe adapts the Redis client to the introspection probe; a nil
// client reports the cache as unavailable.
type cacheProbe struct {
	redis *cache.Redis
}

func (p cacheProbe) Healthy() bool {
	if p.redis == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.redis.Healthy(ctx)
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
