package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/cache"
	"github.com/fathomlabs/fathom/internal/circuitbreaker"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/interceptors"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/ratecontrol"
	"github.com/fathomlabs/fathom/internal/tracing"
)

// maxTextBytes bounds a single input text on the wire
const maxTextBytes = 8 * 1024

// EmbedError reports a failed gateway call when fallback is disabled
type EmbedError struct {
	Cause error
}

func (e *EmbedError) Error() string { return fmt.Sprintf("embedding gateway: %v", e.Cause) }
func (e *EmbedError) Unwrap() error { return e.Cause }

// Config controls the gateway
type Config struct {
	Endpoint      string
	Dim           int
	AllowFallback bool
	Timeout       time.Duration
	MaxInFlight   int
	CacheTTL      time.Duration
}

// Gateway turns text into fixed-dimension vectors via the external
// embedding service. Single-text results are cached under the embedding
// model version; batches preserve input order.
type Gateway struct {
	cfg     Config
	http    *circuitbreaker.HTTPWrapper
	store   cache.Store
	limiter *ratecontrol.Limiter
	logger  *zap.Logger
}

// NewGateway builds a gateway; store may be cache.Noop{}.
func NewGateway(cfg Config, store cache.Store, logger *zap.Logger) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 600 * time.Millisecond
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewRequestIDRoundTripper(nil),
	}
	return &Gateway{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "embed-gateway", "embeddings", logger),
		store:   store,
		limiter: ratecontrol.NewLimiter("embed", cfg.MaxInFlight),
		logger:  logger,
	}
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dim        int         `json:"dim"`
}

// EmbedQuery embeds a single text. The degraded flag is true when the zero
// vector fallback was used.
func (g *Gateway) EmbedQuery(ctx context.Context, text, modelID string) ([]float32, bool, error) {
	vecs, degraded, err := g.Embed(ctx, []string{text}, modelID)
	if err != nil {
		return nil, false, err
	}
	return vecs[0], degraded, nil
}

// Embed embeds a batch, preserving order. Cached texts are served without a
// gateway call; a warm batch is answered entirely from cache.
func (g *Gateway) Embed(ctx context.Context, texts []string, modelID string) ([][]float32, bool, error) {
	if len(texts) == 0 {
		return [][]float32{}, false, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, false, &EmbedError{Cause: fmt.Errorf("text %d is empty", i)}
		}
		if len(t) > maxTextBytes {
			return nil, false, &EmbedError{Cause: fmt.Errorf("text %d exceeds %d bytes", i, maxTextBytes)}
		}
	}

	results := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, text := range texts {
		key := cache.EmbedKey(cache.Hash128(text), modelID)
		if b, ok := g.store.Get(ctx, key); ok {
			if v, ok := cache.DecodeVector(b); ok && len(v) == g.cfg.Dim {
				results[i] = v
				continue
			}
		}
		uncached = append(uncached, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return results, false, nil
	}

	fetched, err := g.call(ctx, uncached, modelID)
	if err != nil {
		// Dimension disagreement is a configuration fault and never falls back
		if _, ok := err.(*config.ConfigError); ok {
			return nil, false, err
		}
		if !g.cfg.AllowFallback {
			return nil, false, &EmbedError{Cause: err}
		}
		g.logger.Warn("Embedding gateway failed, using zero vector fallback",
			zap.Int("texts", len(uncached)), zap.Error(err))
		zero := make([]float32, g.cfg.Dim)
		for _, idx := range uncachedIdx {
			results[idx] = zero
		}
		return results, true, nil
	}

	for i, vec := range fetched {
		idx := uncachedIdx[i]
		results[idx] = vec
		key := cache.EmbedKey(cache.Hash128(uncached[i]), modelID)
		g.store.Set(ctx, key, cache.EncodeVector(vec), g.cfg.CacheTTL)
	}
	return results, false, nil
}

// call POSTs the batch and validates the returned dimensions
func (g *Gateway) call(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.limiter.Release()

	start := time.Now()
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, g.cfg.Endpoint)
	defer span.End()

	payload, _ := json.Marshal(embedRequest{Inputs: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := g.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(modelID, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(modelID, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(modelID, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.RecordEmbeddingMetrics(modelID, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(er.Embeddings), len(texts))
	}
	for i, vec := range er.Embeddings {
		if len(vec) != g.cfg.Dim {
			metrics.RecordEmbeddingMetrics(modelID, "dim_mismatch", time.Since(start).Seconds())
			return nil, &config.ConfigError{
				Option:  "EMBED_DIM",
				Message: fmt.Sprintf("gateway returned dimension %d for text %d, expected %d", len(vec), i, g.cfg.Dim),
			}
		}
	}

	metrics.RecordEmbeddingMetrics(modelID, "ok", time.Since(start).Seconds())
	return er.Embeddings, nil
}

// Healthy reports whether the gateway's breaker admits requests
func (g *Gateway) Healthy() bool { return !g.http.IsOpen() }

// Dim returns the configured embedding dimension
func (g *Gateway) Dim() int { return g.cfg.Dim }
