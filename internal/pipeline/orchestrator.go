package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fathomlabs/fathom/internal/cache"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/features"
	"github.com/fathomlabs/fathom/internal/fusion"
	"github.com/fathomlabs/fathom/internal/interceptors"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/registry"
	"github.com/fathomlabs/fathom/internal/scoring"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

const maxQueryChars = 4096

// Embedder turns query text into a vector; degraded is true when a
// fallback vector was served.
type Embedder interface {
	EmbedQuery(ctx context.Context, text, modelID string) ([]float32, bool, error)
	Healthy() bool
}

// Retriever searches the vector store.
type Retriever interface {
	Search(ctx context.Context, vector []float32, k int, filter vectordb.Filter) ([]vectordb.Candidate, error)
	Healthy() bool
}

// Orchestrator runs the retrieve-and-rank pipeline end to end. Requests
// see an immutable registry snapshot; weight updates land between
// requests, never inside one.
type Orchestrator struct {
	cfg        *config.Config
	reg        *registry.Registry
	embedder   Embedder
	retriever  Retriever
	assembler  *features.Assembler
	conceptual *scoring.Conceptual
	store      cache.Store
	logger     *zap.Logger
}

func NewOrchestrator(cfg *config.Config, reg *registry.Registry, embedder Embedder, retriever Retriever, store cache.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		reg:        reg,
		embedder:   embedder,
		retriever:  retriever,
		assembler:  features.NewAssembler(store, cfg.FeatureCacheTTL, logger),
		conceptual: scoring.NewConceptual(),
		store:      store,
		logger:     logger,
	}
}

// Query validates, embeds, retrieves, scores, fuses, and packages one
// request under the global budget.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	// One snapshot serves the whole request; weights, models, and the
	// version tag always agree even across a concurrent update.
	snap := o.reg.Snapshot()
	topK, weights, err := o.validate(&req, snap)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if interceptors.RequestIDFromContext(ctx) == "" {
		ctx = interceptors.WithRequestID(ctx, uuid.NewString())
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestBudget)
	defer cancel()

	timings := map[string]float64{
		"embed": -1, "retrieve": -1, "feature": -1, "ltr": -1, "fusion": -1, "total": -1,
	}

	queryHash := cache.Hash128(req.Query, req.Tenant, strconv.Itoa(topK), overrideTag(req.FusionWeightsOverride))
	cacheKey := cache.QueryKey(queryHash, snap.VersionTag())

	if !req.BypassCache {
		if raw, ok := o.store.Get(ctx, cacheKey); ok {
			var resp Response
			if cache.DecodeJSON(raw, &resp) {
				resp.Cache = true
				// No stage ran; the stored timings belong to the
				// request that populated the entry.
				if resp.TimingsMS == nil {
					resp.TimingsMS = make(map[string]float64)
				}
				for stage := range resp.TimingsMS {
					resp.TimingsMS[stage] = 0
				}
				resp.TimingsMS["total"] = msSince(start)
				metrics.RequestsTotal.WithLabelValues("cache_hit").Inc()
				return &resp, nil
			}
		}
	}

	// Embed
	stage := time.Now()
	vector, embedDegraded, err := o.embedder.EmbedQuery(ctx, req.Query, snap.Embedding.ID())
	timings["embed"] = msSince(stage)
	metrics.RecordStageLatency("embed", timings["embed"])
	if err != nil {
		return o.fail(classify("embed", err))
	}

	// Retrieve
	stage = time.Now()
	k := topK * o.cfg.CandidateMultiplier
	if k > o.cfg.MaxCandidates {
		k = o.cfg.MaxCandidates
	}
	candidates, err := o.retriever.Search(ctx, vector, k, vectordb.Filter{Tenant: req.Tenant})
	timings["retrieve"] = msSince(stage)
	metrics.RecordStageLatency("retrieve", timings["retrieve"])
	if err != nil {
		return o.fail(classify("retrieve", err))
	}
	if len(candidates) == 0 {
		timings["total"] = msSince(start)
		metrics.RequestsTotal.WithLabelValues("empty").Inc()
		metrics.DegradedResponses.WithLabelValues("no_candidates").Inc()
		return o.respond(snap, weights, nil, timings, true), nil
	}

	// Features
	stage = time.Now()
	records := o.assembler.Assemble(ctx, candidates)
	timings["feature"] = msSince(stage)
	metrics.RecordStageLatency("feature", timings["feature"])

	// LTR and conceptual run concurrently; both preserve candidate order
	ltrScorer, err := scoring.NewLinear(snap.LTR)
	if err != nil {
		return o.fail(classify("ltr", err))
	}

	stage = time.Now()
	var ltrScores, concScores []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var scoreErr error
		ltrScores, scoreErr = ltrScorer.Score(records)
		return scoreErr
	})
	g.Go(func() error {
		concScores = o.conceptual.Score(req.Query, candidates, records, weights)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return o.fail(classify("ltr", err))
	}
	timings["ltr"] = msSince(stage)
	metrics.RecordStageLatency("ltr", timings["ltr"])

	// Fuse and truncate
	stage = time.Now()
	inputs := make([]fusion.Input, len(candidates))
	for i, cand := range candidates {
		inputs[i] = fusion.Input{
			ID:         cand.ID,
			Similarity: records[i].Similarity(),
			LTR:        ltrScores[i],
			Conceptual: concScores[i],
		}
	}
	ranked := fusion.Fuse(inputs, weights)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	timings["fusion"] = msSince(stage)
	metrics.RecordStageLatency("fusion", timings["fusion"])

	timings["total"] = msSince(start)
	metrics.RecordStageLatency("total", timings["total"])

	resp := o.respond(snap, weights, o.items(ranked, candidates), timings, embedDegraded)
	if embedDegraded {
		metrics.DegradedResponses.WithLabelValues("embed_fallback").Inc()
	}

	if !req.BypassCache && !resp.Degraded {
		if raw, ok := cache.EncodeJSON(resp); ok {
			o.store.Set(ctx, cacheKey, raw, o.cfg.QueryCacheTTL)
		}
	}
	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

func (o *Orchestrator) validate(req *Request, snap *registry.Snapshot) (int, registry.WeightSet, error) {
	n := utf8.RuneCountInString(req.Query)
	if n == 0 {
		return 0, registry.WeightSet{}, inputError("query is required")
	}
	if n > maxQueryChars {
		return 0, registry.WeightSet{}, inputError(fmt.Sprintf("query exceeds %d characters", maxQueryChars))
	}
	topK := o.cfg.TopKDefault
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > 100 {
		return 0, registry.WeightSet{}, inputError("top_k must be in [1,100]")
	}
	if o.cfg.TenantRequired && req.Tenant == "" {
		return 0, registry.WeightSet{}, inputError("tenant is required")
	}

	weights := snap.Weights
	if ov := req.FusionWeightsOverride; ov != nil {
		if ov.LTR < 0 || ov.Conceptual < 0 || ov.LTR+ov.Conceptual == 0 {
			return 0, registry.WeightSet{}, inputError("fusion_weights_override must be non-negative with a non-zero sum")
		}
		weights.Fusion = map[string]float64{"ltr": ov.LTR, "conceptual": ov.Conceptual}
	}
	return topK, weights, nil
}

func (o *Orchestrator) respond(snap *registry.Snapshot, weights registry.WeightSet, items []ResultItem, timings map[string]float64, degraded bool) *Response {
	if items == nil {
		items = []ResultItem{}
	}
	return &Response{
		Results: items,
		Weights: fusion.NormalizedWeights(weights),
		Models: map[string]string{
			"embedding": snap.Embedding.ID(),
			"ltr":       snap.LTR.ID(),
		},
		TimingsMS:  timings,
		Degraded:   degraded,
		VersionTag: snap.VersionTag(),
	}
}

func (o *Orchestrator) items(ranked []fusion.Result, candidates []vectordb.Candidate) []ResultItem {
	byID := make(map[string]vectordb.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	out := make([]ResultItem, len(ranked))
	for i, r := range ranked {
		cand := byID[r.ID]
		out[i] = ResultItem{
			ChunkID:    r.ID,
			Text:       cand.Text,
			FusedScore: r.Breakdown.Fused,
			Components: Components{
				Raw:        r.Breakdown.Raw,
				Normalized: r.Breakdown.Normalized,
				Distance:   cand.Distance,
			},
			Metadata: cand.Metadata,
		}
	}
	return out
}

func (o *Orchestrator) fail(se *StageError) (*Response, error) {
	metrics.RequestsTotal.WithLabelValues("error").Inc()
	o.logger.Warn("Query failed",
		zap.String("kind", se.Kind),
		zap.String("stage", se.Stage),
		zap.String("message", se.Message))
	return nil, se
}

func overrideTag(ov *FusionOverride) string {
	if ov == nil {
		return ""
	}
	return fmt.Sprintf("ov:%g:%g", ov.LTR, ov.Conceptual)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
