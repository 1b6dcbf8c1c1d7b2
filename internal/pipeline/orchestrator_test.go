package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fathomlabs/fathom/internal/cache"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/embeddings"
	"github.com/fathomlabs/fathom/internal/registry"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

type stubEmbedder struct {
	vector   []float32
	degraded bool
	err      error
	calls    int
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text, modelID string) ([]float32, bool, error) {
	s.calls++
	if s.err != nil {
		return nil, false, s.err
	}
	return s.vector, s.degraded, nil
}

func (s *stubEmbedder) Healthy() bool { return true }

type stubRetriever struct {
	candidates []vectordb.Candidate
	err        error
	gotK       int
	calls      int
}

func (s *stubRetriever) Search(ctx context.Context, vector []float32, k int, filter vectordb.Filter) ([]vectordb.Candidate, error) {
	s.calls++
	s.gotK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func (s *stubRetriever) Healthy() bool { return true }

func intp(n int) *int { return &n }

func testConfig() *config.Config {
	return &config.Config{
		TopKDefault:         10,
		CandidateMultiplier: 5,
		MaxCandidates:       200,
		RequestBudget:       1500 * time.Millisecond,
		QueryCacheTTL:       time.Minute,
		FeatureCacheTTL:     time.Minute,
	}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Options{
		EmbeddingModel: "all-minilm-l6-v2",
		EmbeddingDim:   4,
		Weights: registry.WeightSet{
			Fusion:     map[string]float64{"ltr": 0.6, "conceptual": 0.4},
			Conceptual: map[string]float64{"distance": 0.7, "recency": 0.2, "metadata": 0.1},
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return reg
}

func threeCandidates() []vectordb.Candidate {
	return []vectordb.Candidate{
		{ID: "c1", Distance: 0.1, Text: "first", TokenCount: 50},
		{ID: "c2", Distance: 0.2, Text: "second", TokenCount: 100},
		{ID: "c3", Distance: 0.3, Text: "third", TokenCount: 200},
	}
}

func newTestOrchestrator(t *testing.T, emb *stubEmbedder, ret *stubRetriever, store cache.Store) *Orchestrator {
	t.Helper()
	if store == nil {
		store = cache.Noop{}
	}
	return NewOrchestrator(testConfig(), testRegistry(t), emb, ret, store, zaptest.NewLogger(t))
}

func TestQueryHappyPath(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	o := newTestOrchestrator(t, emb, ret, nil)

	resp, err := o.Query(context.Background(), Request{Query: "hello world", TopK: intp(3)})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	require.False(t, resp.Cache)
	require.Len(t, resp.Results, 3)

	// Under the max-distance scale both score streams are linear in
	// similarity, so each min-maxes to [1, 0.5, 0] and fused follows.
	require.Equal(t, "c1", resp.Results[0].ChunkID)
	require.Equal(t, "c2", resp.Results[1].ChunkID)
	require.Equal(t, "c3", resp.Results[2].ChunkID)
	require.InDelta(t, 1.0, resp.Results[0].FusedScore, 1e-9)
	require.InDelta(t, 0.5, resp.Results[1].FusedScore, 1e-9)
	require.InDelta(t, 0.0, resp.Results[2].FusedScore, 1e-9)

	require.Equal(t, 0.1, resp.Results[0].Components.Distance)
	require.InDelta(t, 0.6, resp.Weights.LTR, 1e-9)
	require.Equal(t, "all-minilm-l6-v2@1", resp.Models["embedding"])
	require.Equal(t, "ltr-linear@1", resp.Models["ltr"])
	require.NotEmpty(t, resp.VersionTag)
	require.Equal(t, 15, ret.gotK, "candidate fetch is top_k times the multiplier")

	for _, stage := range []string{"embed", "retrieve", "feature", "ltr", "fusion", "total"} {
		require.GreaterOrEqual(t, resp.TimingsMS[stage], 0.0, stage)
	}
}

func TestQueryCacheHit(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	store := cache.NewLocal(64)
	o := newTestOrchestrator(t, emb, ret, store)
	ctx := context.Background()

	first, err := o.Query(ctx, Request{Query: "cached query"})
	require.NoError(t, err)
	require.False(t, first.Cache)

	second, err := o.Query(ctx, Request{Query: "cached query"})
	require.NoError(t, err)
	require.True(t, second.Cache)
	require.Equal(t, 1, emb.calls, "cache hit skips embed")
	require.Equal(t, 1, ret.calls, "cache hit skips retrieval")
	require.Equal(t, first.Results, second.Results)

	// Stage timings reflect this request, where no stage ran
	for _, stage := range []string{"embed", "retrieve", "feature", "ltr", "fusion"} {
		require.Equal(t, 0.0, second.TimingsMS[stage], stage)
	}
	require.GreaterOrEqual(t, second.TimingsMS["total"], 0.0)
}

func TestQueryDefaultTopKWhenOmitted(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	o := newTestOrchestrator(t, emb, ret, nil)

	_, err := o.Query(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, 50, ret.gotK, "omitted top_k uses the default times the multiplier")
}

func TestQuerySnapshotConsistentWeights(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	reg := testRegistry(t)
	o := NewOrchestrator(testConfig(), reg, emb, ret, cache.Noop{}, zaptest.NewLogger(t))

	before := reg.Snapshot()
	_, err := reg.PutWeights(registry.WeightSet{
		Fusion:     map[string]float64{"ltr": 0.9, "conceptual": 0.1},
		Conceptual: map[string]float64{"distance": 0.7, "recency": 0.2, "metadata": 0.1},
	})
	require.NoError(t, err)

	// Validation against a snapshot yields that snapshot's weights, not
	// whatever is active now.
	req := Request{Query: "q"}
	_, weights, err := o.validate(&req, before)
	require.NoError(t, err)
	require.Equal(t, before.Weights.Version, weights.Version)
	require.InDelta(t, 0.6, weights.Fusion["ltr"], 1e-9)

	// A full query reports a weight version matching its version tag
	resp, err := o.Query(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, reg.Snapshot().VersionTag(), resp.VersionTag)
	require.Equal(t, reg.Snapshot().Weights.Version, resp.Weights.Version)
}

func TestQueryBypassCache(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	store := cache.NewLocal(64)
	o := newTestOrchestrator(t, emb, ret, store)
	ctx := context.Background()

	_, err := o.Query(ctx, Request{Query: "q"})
	require.NoError(t, err)
	resp, err := o.Query(ctx, Request{Query: "q", BypassCache: true})
	require.NoError(t, err)
	require.False(t, resp.Cache)
	require.Equal(t, 2, emb.calls)
}

func TestQueryWeightsChangeInvalidatesCache(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	store := cache.NewLocal(64)
	reg := testRegistry(t)
	o := NewOrchestrator(testConfig(), reg, emb, ret, store, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := o.Query(ctx, Request{Query: "q"})
	require.NoError(t, err)

	_, err = reg.PutWeights(registry.WeightSet{
		Fusion:     map[string]float64{"ltr": 0.8, "conceptual": 0.2},
		Conceptual: map[string]float64{"distance": 0.7, "recency": 0.2, "metadata": 0.1},
	})
	require.NoError(t, err)

	resp, err := o.Query(ctx, Request{Query: "q"})
	require.NoError(t, err)
	require.False(t, resp.Cache, "new weight version must miss the old cache entry")
	require.Equal(t, 2, resp.Weights.Version)
	require.InDelta(t, 0.8, resp.Weights.LTR, 1e-9)
}

func TestQueryEmbedFallbackDegrades(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{0, 0, 0, 0}, degraded: true}
	ret := &stubRetriever{candidates: threeCandidates()}
	store := cache.NewLocal(64)
	o := newTestOrchestrator(t, emb, ret, store)

	resp, err := o.Query(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)

	// Degraded responses are not cached
	resp2, err := o.Query(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.False(t, resp2.Cache)
}

func TestQueryEmbedConfigError(t *testing.T) {
	emb := &stubEmbedder{err: &config.ConfigError{Option: "EMBED_DIM", Message: "mismatch"}}
	o := newTestOrchestrator(t, emb, &stubRetriever{}, nil)

	_, err := o.Query(context.Background(), Request{Query: "q"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, KindConfig, se.Kind)
	require.Equal(t, "embed", se.Stage)
}

func TestQueryEmbedFailure(t *testing.T) {
	emb := &stubEmbedder{err: &embeddings.EmbedError{}}
	o := newTestOrchestrator(t, emb, &stubRetriever{}, nil)

	_, err := o.Query(context.Background(), Request{Query: "q"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, KindEmbed, se.Kind)
}

func TestQueryEmptyCandidateSetDegrades(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: nil}
	o := newTestOrchestrator(t, emb, ret, nil)

	resp, err := o.Query(context.Background(), Request{Query: "nothing matches"})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.Empty(t, resp.Results)
	require.Equal(t, -1.0, resp.TimingsMS["feature"], "skipped stage reports -1")
	require.Equal(t, -1.0, resp.TimingsMS["ltr"], "skipped stage reports -1")
}

func TestQueryRetrievalFailure(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{err: &vectordb.RetrievalError{}}
	o := newTestOrchestrator(t, emb, ret, nil)

	_, err := o.Query(context.Background(), Request{Query: "q"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, KindRetrieval, se.Kind)
	require.Equal(t, "retrieve", se.Stage)
}

func TestQueryValidation(t *testing.T) {
	o := newTestOrchestrator(t, &stubEmbedder{}, &stubRetriever{}, nil)
	ctx := context.Background()

	cases := []Request{
		{Query: ""},
		{Query: "q", TopK: intp(0)},
		{Query: "q", TopK: intp(-1)},
		{Query: "q", TopK: intp(101)},
		{Query: "q", FusionWeightsOverride: &FusionOverride{LTR: -1, Conceptual: 2}},
		{Query: "q", FusionWeightsOverride: &FusionOverride{}},
	}
	for _, req := range cases {
		_, err := o.Query(ctx, req)
		var se *StageError
		require.ErrorAs(t, err, &se)
		require.Equal(t, KindInput, se.Kind)
	}
}

func TestQueryTenantRequired(t *testing.T) {
	cfg := testConfig()
	cfg.TenantRequired = true
	o := NewOrchestrator(cfg, testRegistry(t), &stubEmbedder{vector: []float32{1, 0, 0, 0}}, &stubRetriever{candidates: threeCandidates()}, cache.Noop{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := o.Query(ctx, Request{Query: "q"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, KindInput, se.Kind)

	_, err = o.Query(ctx, Request{Query: "q", Tenant: "acme"})
	require.NoError(t, err)
}

func TestQueryFusionOverride(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	o := newTestOrchestrator(t, emb, ret, nil)

	resp, err := o.Query(context.Background(), Request{
		Query:                 "q",
		FusionWeightsOverride: &FusionOverride{LTR: 1, Conceptual: 1},
	})
	require.NoError(t, err)
	require.InDelta(t, 0.5, resp.Weights.LTR, 1e-9)
	require.InDelta(t, 0.5, resp.Weights.Conceptual, 1e-9)
}

func TestQueryCandidateFetchCappedAtMax(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCandidates = 20
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	ret := &stubRetriever{candidates: threeCandidates()}
	o := NewOrchestrator(cfg, testRegistry(t), emb, ret, cache.Noop{}, zaptest.NewLogger(t))

	_, err := o.Query(context.Background(), Request{Query: "q", TopK: intp(10)})
	require.NoError(t, err)
	require.Equal(t, 20, ret.gotK)
}
