package features

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/cache"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

// SchemaVersion identifies the feature layout. Extensions append fields
// and bump this; all candidates in one request share one version.
const SchemaVersion = 1

// Field order for schema v1.
const (
	FieldSimilarity = 0
	FieldLogLength  = 1
	FieldBias       = 2

	FeatureCount = 3
)

// Record is one candidate's ordered feature vector.
type Record struct {
	ChunkID       string    `json:"chunk_id"`
	SchemaVersion int       `json:"schema_version"`
	Values        []float64 `json:"values"`
}

// Similarity returns the similarity_primary field.
func (r Record) Similarity() float64 { return r.Values[FieldSimilarity] }

// Assembler computes per-candidate feature vectors. Length features are
// cached per chunk; the similarity field depends on the batch and is
// recomputed on every request.
type Assembler struct {
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewAssembler builds an assembler; store may be cache.Noop{}.
func NewAssembler(store cache.Store, ttl time.Duration, logger *zap.Logger) *Assembler {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Assembler{store: store, ttl: ttl, logger: logger}
}

// Assemble produces one record per candidate, preserving order.
func (a *Assembler) Assemble(ctx context.Context, candidates []vectordb.Candidate) []Record {
	scale := distanceScale(candidates)
	records := make([]Record, len(candidates))

	for i, cand := range candidates {
		rec, cached := a.lookup(ctx, cand.ID)
		if !cached {
			rec = Record{
				ChunkID:       cand.ID,
				SchemaVersion: SchemaVersion,
				Values:        make([]float64, FeatureCount),
			}
			rec.Values[FieldLogLength] = logLength(cand)
			rec.Values[FieldBias] = 1.0
			a.storeRecord(ctx, rec)
		}
		// similarity_primary is batch-relative, never served from cache
		rec.Values[FieldSimilarity] = similarity(cand.Distance, scale)
		records[i] = rec
	}
	return records
}

func (a *Assembler) lookup(ctx context.Context, chunkID string) (Record, bool) {
	key := cache.FeatureKey(chunkID, SchemaVersion)
	raw, ok := a.store.Get(ctx, key)
	if !ok {
		return Record{}, false
	}
	var rec Record
	if !cache.DecodeJSON(raw, &rec) || rec.SchemaVersion != SchemaVersion || len(rec.Values) != FeatureCount {
		return Record{}, false
	}
	rec.ChunkID = chunkID
	return rec, true
}

func (a *Assembler) storeRecord(ctx context.Context, rec Record) {
	raw, ok := cache.EncodeJSON(rec)
	if !ok {
		return
	}
	a.store.Set(ctx, cache.FeatureKey(rec.ChunkID, SchemaVersion), raw, a.ttl)
}

// distanceScale picks the batch normalizer: 95th percentile with five or
// more candidates, otherwise the max. A degenerate all-zero batch scales
// by 1 so similarity stays defined.
func distanceScale(candidates []vectordb.Candidate) float64 {
	if len(candidates) == 0 {
		return 1.0
	}
	distances := make([]float64, len(candidates))
	for i, c := range candidates {
		distances[i] = c.Distance
	}
	sort.Float64s(distances)

	var scale float64
	if len(distances) >= 5 {
		rank := int(math.Ceil(0.95*float64(len(distances)))) - 1
		scale = distances[rank]
	} else {
		scale = distances[len(distances)-1]
	}
	if scale <= 0 {
		return 1.0
	}
	return scale
}

func similarity(distance, scale float64) float64 {
	return math.Max(0, 1-distance/scale)
}

// logLength is ln(token_count + 1), falling back to the whitespace word
// count when the store carries no token count.
func logLength(cand vectordb.Candidate) float64 {
	n := cand.TokenCount
	if n <= 0 {
		n = len(strings.Fields(cand.Text))
	}
	return math.Log(float64(n) + 1)
}
