package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fathomlabs/fathom/internal/cache"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/pipeline"
	"github.com/fathomlabs/fathom/internal/registry"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

type fixedEmbedder struct{ vector []float32 }

func (f fixedEmbedder) EmbedQuery(ctx context.Context, text, modelID string) ([]float32, bool, error) {
	return f.vector, false, nil
}
func (f fixedEmbedder) Healthy() bool { return true }

type fixedRetriever struct{ candidates []vectordb.Candidate }

func (f fixedRetriever) Search(ctx context.Context, vector []float32, k int, filter vectordb.Filter) ([]vectordb.Candidate, error) {
	return f.candidates, nil
}
func (f fixedRetriever) Healthy() bool { return true }

func testMux(t *testing.T) (*http.ServeMux, *registry.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg, err := registry.New(registry.Options{
		EmbeddingDim: 4,
		Weights: registry.WeightSet{
			Fusion:     map[string]float64{"ltr": 0.6, "conceptual": 0.4},
			Conceptual: map[string]float64{"distance": 0.7, "recency": 0.2, "metadata": 0.1},
		},
	}, logger)
	require.NoError(t, err)

	cfg := &config.Config{
		TopKDefault:         10,
		CandidateMultiplier: 5,
		MaxCandidates:       200,
		RequestBudget:       1500 * time.Millisecond,
	}
	orch := pipeline.NewOrchestrator(cfg, reg,
		fixedEmbedder{vector: []float32{1, 0, 0, 0}},
		fixedRetriever{candidates: []vectordb.Candidate{
			{ID: "c1", Distance: 0.1, Text: "alpha", TokenCount: 10},
			{ID: "c2", Distance: 0.3, Text: "beta", TokenCount: 20},
		}},
		cache.Noop{}, logger)

	mux := http.NewServeMux()
	NewQueryHandler(orch, logger).RegisterRoutes(mux)
	NewWeightsHandler(reg, logger).RegisterRoutes(mux)
	NewIntrospectHandler(reg, nil, nil, logger).RegisterRoutes(mux)
	return mux, reg
}

func TestQueryEndpoint(t *testing.T) {
	mux, _ := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"hello","top_k":2}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	require.Equal(t, "c1", resp.Results[0].ChunkID)
	require.NotEmpty(t, resp.VersionTag)
}

func TestQueryEndpointBadInput(t *testing.T) {
	mux, _ := testMux(t)

	cases := []string{
		`{"query":""}`,
		`{"query":"q","top_k":0}`,
		`{"query":"q","top_k":500}`,
		`{not json`,
		`{"query":"q","unknown_field":true}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)

		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		require.Equal(t, "input", env.ErrorKind)
	}
}

func TestQueryEndpointPropagatesRequestID(t *testing.T) {
	mux, _ := testMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestWeightsGetAndPut(t *testing.T) {
	mux, _ := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/weights", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var active registry.WeightSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Equal(t, 1, active.Version)
	require.InDelta(t, 0.6, active.Fusion["ltr"], 1e-9)

	put := `{"name":"tuned","fusion":{"ltr":0.8,"conceptual":0.2},"conceptual":{"distance":0.5,"recency":0.3,"metadata":0.2}}`
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/weights", strings.NewReader(put)))
	require.Equal(t, http.StatusOK, rec.Code)

	var out putWeightsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Version)
}

func TestWeightsPutInvalidLeavesActiveUnchanged(t *testing.T) {
	mux, reg := testMux(t)

	put := `{"fusion":{"ltr":-1,"conceptual":0.2},"conceptual":{"distance":1,"recency":0,"metadata":0}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/weights", strings.NewReader(put)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, 1, reg.ActiveWeights().Version)
}

func TestIntrospectEndpoint(t *testing.T) {
	mux, _ := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/introspect", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp introspectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.WeightVersion)
	require.Contains(t, resp.Models["embedding"], "@")
	require.False(t, resp.CacheAvailable)
	require.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
}
