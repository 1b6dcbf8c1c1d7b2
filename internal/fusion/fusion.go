package fusion

import (
	"sort"

	"github.com/fathomlabs/fathom/internal/registry"
)

// Input is one candidate entering fusion.
type Input struct {
	ID         string
	Similarity float64
	LTR        float64
	Conceptual float64
}

// Breakdown is the per-candidate score explanation carried into responses.
type Breakdown struct {
	Raw        Components `json:"raw"`
	Normalized Components `json:"normalized"`
	Weights    Weights    `json:"weights"`
	Fused      float64    `json:"fused"`
}

type Components struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
}

type Weights struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
	Version    int     `json:"version"`
}

// Result pairs a candidate ID with its breakdown, in final rank order.
type Result struct {
	ID         string
	Similarity float64
	Breakdown  Breakdown
}

// NormalizedWeights renders the fusion weights of a weight set the way
// Fuse applies them, with the pair renormalized to sum to 1.
func NormalizedWeights(ws registry.WeightSet) Weights {
	wLTR := ws.Fusion["ltr"]
	wConc := ws.Fusion["conceptual"]
	if sum := wLTR + wConc; sum > 0 {
		wLTR /= sum
		wConc /= sum
	} else {
		wLTR, wConc = 0.5, 0.5
	}
	return Weights{LTR: wLTR, Conceptual: wConc, Version: ws.Version}
}

// Fuse min-max normalizes each score stream, blends with the fusion
// weights, and ranks. A zero-range stream normalizes to 0.5 for all.
// Ties break on descending similarity, then ascending ID. An empty input
// yields an empty result, never an error.
func Fuse(inputs []Input, weights registry.WeightSet) []Result {
	if len(inputs) == 0 {
		return []Result{}
	}

	w := NormalizedWeights(weights)

	ltrNorm := normalize(inputs, func(in Input) float64 { return in.LTR })
	concNorm := normalize(inputs, func(in Input) float64 { return in.Conceptual })

	results := make([]Result, len(inputs))
	for i, in := range inputs {
		fused := w.LTR*ltrNorm[i] + w.Conceptual*concNorm[i]
		results[i] = Result{
			ID:         in.ID,
			Similarity: in.Similarity,
			Breakdown: Breakdown{
				Raw:        Components{LTR: in.LTR, Conceptual: in.Conceptual},
				Normalized: Components{LTR: ltrNorm[i], Conceptual: concNorm[i]},
				Weights:    w,
				Fused:      fused,
			},
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Breakdown.Fused != results[j].Breakdown.Fused {
			return results[i].Breakdown.Fused > results[j].Breakdown.Fused
		}
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// normalize maps the stream to [0,1] by min-max; negative raws are fine.
func normalize(inputs []Input, get func(Input) float64) []float64 {
	lo, hi := get(inputs[0]), get(inputs[0])
	for _, in := range inputs[1:] {
		v := get(in)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(inputs))
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, in := range inputs {
		out[i] = (get(in) - lo) / (hi - lo)
	}
	return out
}
