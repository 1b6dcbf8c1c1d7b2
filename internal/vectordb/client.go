package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/circuitbreaker"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/interceptors"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/ratecontrol"
	"github.com/fathomlabs/fathom/internal/tracing"
)

// Client talks to the vector store over its HTTP search interface. The
// connection pool inside http.Client opens lazily; transient failures are
// retried with bounded exponential backoff.
type Client struct {
	cfg     Config
	base    string
	httpw   *circuitbreaker.HTTPWrapper
	limiter *ratecontrol.Limiter
	logger  *zap.Logger
}

const (
	retryInitial  = 50 * time.Millisecond
	retryCap      = time.Second
	retryAttempts = 3
)

// NewClient builds a client; no connection is made until the first call.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 800 * time.Millisecond
	}
	if cfg.MaxCandidates == 0 {
		cfg.MaxCandidates = 200
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = 32
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewRequestIDRoundTripper(nil),
	}
	return &Client{
		cfg:     cfg,
		base:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpw:   circuitbreaker.NewHTTPWrapper(httpClient, "vector-store", "vectordb", logger),
		limiter: ratecontrol.NewLimiter("retrieve", cfg.MaxInFlight),
		logger:  logger,
	}
}

type searchRequest struct {
	Vector      []float32              `json:"vector"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
}

type searchPoint struct {
	ID       string                 `json:"id"`
	Distance float64                `json:"distance"`
	Payload  map[string]interface{} `json:"payload"`
}

type searchResponse struct {
	Result []searchPoint `json:"result"`
	Status string        `json:"status"`
}

// Search returns up to k candidates ordered by ascending distance, ties
// broken lexicographically on ID. The raw distance is propagated verbatim.
func (c *Client) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Candidate, error) {
	if c.cfg.ExpectedDim > 0 && len(vector) != c.cfg.ExpectedDim {
		return nil, &config.ConfigError{
			Option:  "EMBED_DIM",
			Message: fmt.Sprintf("query vector has dimension %d, store expects %d", len(vector), c.cfg.ExpectedDim),
		}
	}
	if k < 1 {
		return nil, &RetrievalError{Cause: fmt.Errorf("k must be at least 1, got %d", k)}
	}
	if k > c.cfg.MaxCandidates {
		k = c.cfg.MaxCandidates
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()

	start := time.Now()
	url := fmt.Sprintf("%s/collections/%s/points/search", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, _ := json.Marshal(searchRequest{
		Vector:      vector,
		Limit:       k,
		WithPayload: true,
		Filter:      buildFilter(filter),
	})

	var points []searchPoint
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)

		resp, err := c.httpw.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 500 {
				return fmt.Errorf("vector store status %d", resp.StatusCode)
			}
			return backoff.Permanent(fmt.Errorf("vector store status %d", resp.StatusCode))
		}
		var sr searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return err
		}
		points = sr.Result
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     retryInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         retryCap,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, retryAttempts-1), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, &RetrievalError{Cause: err}
	}

	metrics.RecordVectorSearchMetrics(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return toCandidates(points), nil
}

func buildFilter(f Filter) map[string]interface{} {
	var must []map[string]interface{}
	if f.Tenant != "" {
		must = append(must, map[string]interface{}{
			"key":   "tenant_id",
			"match": map[string]interface{}{"value": f.Tenant},
		})
	}
	if f.SourceType != "" {
		must = append(must, map[string]interface{}{
			"key":   "source_type",
			"match": map[string]interface{}{"value": f.SourceType},
		})
	}
	if must == nil {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func toCandidates(points []searchPoint) []Candidate {
	out := make([]Candidate, 0, len(points))
	for _, p := range points {
		cand := Candidate{
			ID:         p.ID,
			Distance:   p.Distance,
			Metadata:   map[string]interface{}{},
			Provenance: "ann",
		}
		if p.Payload != nil {
			if v, ok := p.Payload["document_id"].(string); ok {
				cand.DocumentID = v
			}
			if v, ok := p.Payload["ordinal"].(float64); ok {
				cand.Ordinal = int(v)
			}
			if v, ok := p.Payload["text"].(string); ok {
				cand.Text = v
			}
			if v, ok := p.Payload["token_count"].(float64); ok {
				cand.TokenCount = int(v)
			}
			if v, ok := p.Payload["metadata"].(map[string]interface{}); ok {
				cand.Metadata = v
			}
		}
		out = append(out, cand)
	}
	// The store should already order by distance; enforce it plus the ID
	// tie-break so downstream ordering is deterministic.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Healthy reports whether the breaker admits requests
func (c *Client) Healthy() bool { return !c.httpw.IsOpen() }

// Collection returns the configured collection name
func (c *Client) Collection() string { return c.cfg.Collection }
