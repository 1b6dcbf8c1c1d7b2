package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/fathomlabs/fathom/internal/features"
	"github.com/fathomlabs/fathom/internal/registry"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

// recencyDecayDays is the e-folding time of the recency component.
const recencyDecayDays = 30.0

// Conceptual blends similarity, recency, and tag overlap with the
// sub-weights from the active weight set. Pure: no I/O, no clock reads
// beyond the injected now.
type Conceptual struct {
	now func() time.Time
}

func NewConceptual() *Conceptual {
	return &Conceptual{now: time.Now}
}

// Score returns one score per candidate, preserving order. Sub-weights are
// read from the snapshot's normalized conceptual map; missing metadata
// contributes zero.
func (c *Conceptual) Score(queryText string, candidates []vectordb.Candidate, records []features.Record, weights registry.WeightSet) []float64 {
	wd := weights.Conceptual["distance"]
	wr := weights.Conceptual["recency"]
	wm := weights.Conceptual["metadata"]
	keywords := tokenize(queryText)
	now := c.now()

	out := make([]float64, len(candidates))
	for i, cand := range candidates {
		out[i] = wd*records[i].Similarity() +
			wr*recency(cand, now) +
			wm*tagOverlap(keywords, cand)
	}
	return out
}

// recency maps the candidate's recency_ts to exp(-ageDays/30) in [0,1].
func recency(cand vectordb.Candidate, now time.Time) float64 {
	ts, ok := metadataFloat(cand, "recency_ts")
	if !ok || ts <= 0 {
		return 0
	}
	age := now.Sub(time.Unix(int64(ts), 0))
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	score := math.Exp(-days / recencyDecayDays)
	return math.Min(1, math.Max(0, score))
}

// tagOverlap scores 0.1 per topic tag shared with the query keywords,
// capped at 1.
func tagOverlap(keywords map[string]struct{}, cand vectordb.Candidate) float64 {
	tags := metadataTags(cand)
	if len(tags) == 0 || len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, tag := range tags {
		if _, ok := keywords[strings.ToLower(tag)]; ok {
			matches++
		}
	}
	return math.Min(1.0, 0.1*float64(matches))
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = struct{}{}
	}
	return out
}

func metadataFloat(cand vectordb.Candidate, key string) (float64, bool) {
	if cand.Metadata == nil {
		return 0, false
	}
	switch v := cand.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func metadataTags(cand vectordb.Candidate) []string {
	if cand.Metadata == nil {
		return nil
	}
	switch v := cand.Metadata["topic_tags"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
