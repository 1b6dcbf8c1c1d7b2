package pipeline

import "github.com/fathomlabs/fathom/internal/fusion"

// Request is the inbound query shape. TopK is a pointer so an absent
// top_k takes the default while an explicit 0 is rejected.
type Request struct {
	Query                 string          `json:"query"`
	TopK                  *int            `json:"top_k,omitempty"`
	Tenant                string          `json:"tenant,omitempty"`
	BypassCache           bool            `json:"bypass_cache,omitempty"`
	FusionWeightsOverride *FusionOverride `json:"fusion_weights_override,omitempty"`
}

// FusionOverride replaces the active fusion weights for a single request.
type FusionOverride struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
}

// Components explains one result's score.
type Components struct {
	Raw        fusion.Components `json:"raw"`
	Normalized fusion.Components `json:"normalized"`
	Distance   float64           `json:"distance"`
}

// ResultItem is one ranked chunk in the response.
type ResultItem struct {
	ChunkID    string                 `json:"chunk_id"`
	Text       string                 `json:"text"`
	FusedScore float64                `json:"fused_score"`
	Components Components             `json:"components"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Response is the full query response. A stage that never ran reports a
// timing of -1.
type Response struct {
	Results    []ResultItem       `json:"results"`
	Weights    fusion.Weights     `json:"weights"`
	Models     map[string]string  `json:"models"`
	TimingsMS  map[string]float64 `json:"timings_ms"`
	Cache      bool               `json:"cache"`
	Degraded   bool               `json:"degraded"`
	VersionTag string             `json:"version_tag"`
}
