package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ModelKind classifies registry entries
type ModelKind string

const (
	KindEmbedding  ModelKind = "embedding"
	KindLTR        ModelKind = "ltr"
	KindConceptual ModelKind = "conceptual"
)

// ModelStatus is the lifecycle state of a model entry.
// experimental -> active -> deprecated -> archived; only active entries are
// selected for scoring, deprecated entries stay readable for audit.
type ModelStatus string

const (
	StatusExperimental ModelStatus = "experimental"
	StatusActive       ModelStatus = "active"
	StatusDeprecated   ModelStatus = "deprecated"
	StatusArchived     ModelStatus = "archived"
)

// ModelEntry describes one registered model
type ModelEntry struct {
	Name      string      `json:"name" yaml:"name"`
	Kind      ModelKind   `json:"kind" yaml:"kind"`
	Version   int         `json:"version" yaml:"version"`
	Dimension int         `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Artifact  string      `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Status    ModelStatus `json:"status" yaml:"status"`
	// Coefficients is the linear LTR artifact, ordered per feature schema
	Coefficients []float64 `json:"coefficients,omitempty" yaml:"coefficients,omitempty"`
}

// ID renders the name@version form used in responses and version tags
func (m ModelEntry) ID() string {
	return fmt.Sprintf("%s@%d", m.Name, m.Version)
}

// WeightSet is a named, versioned weight mapping. Both maps are stored
// renormalized (each sums to 1).
type WeightSet struct {
	Name       string             `json:"name" yaml:"name"`
	Version    int                `json:"version" yaml:"-"`
	Fusion     map[string]float64 `json:"fusion" yaml:"fusion"`
	Conceptual map[string]float64 `json:"conceptual" yaml:"conceptual"`
}

var (
	fusionKeys     = []string{"ltr", "conceptual"}
	conceptualKeys = []string{"distance", "recency", "metadata"}
)

// Validate rejects weight sets with missing keys, negative weights, or a
// zero sum in either map.
func (ws WeightSet) Validate() error {
	if err := validateMap(ws.Fusion, fusionKeys, "fusion"); err != nil {
		return err
	}
	return validateMap(ws.Conceptual, conceptualKeys, "conceptual")
}

func validateMap(m map[string]float64, required []string, label string) error {
	if m == nil {
		return fmt.Errorf("weights: %s map is missing", label)
	}
	sum := 0.0
	for _, k := range required {
		w, ok := m[k]
		if !ok {
			return fmt.Errorf("weights: %s map missing required key %q", label, k)
		}
		if w < 0 {
			return fmt.Errorf("weights: %s.%s is negative", label, k)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("weights: %s weights sum to zero", label)
	}
	return nil
}

// normalized returns a copy with each map scaled to sum to 1. Validate must
// have passed first.
func (ws WeightSet) normalized() WeightSet {
	out := WeightSet{Name: ws.Name, Version: ws.Version}
	out.Fusion = normalizeMap(ws.Fusion, fusionKeys)
	out.Conceptual = normalizeMap(ws.Conceptual, conceptualKeys)
	return out
}

func normalizeMap(m map[string]float64, keys []string) map[string]float64 {
	sum := 0.0
	for _, k := range keys {
		sum += m[k]
	}
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		out[k] = m[k] / sum
	}
	return out
}

// Snapshot is an immutable view of the registry handed to a request. Weight
// updates publish a new snapshot; in-flight requests keep the old one.
type Snapshot struct {
	Embedding  ModelEntry
	LTR        ModelEntry
	Conceptual ModelEntry
	Weights    WeightSet
	versionTag string
}

// VersionTag identifies (embedding model, ltr model, weight version) and is
// used to key cached responses. Cached entries with another tag are misses.
func (s *Snapshot) VersionTag() string { return s.versionTag }

func computeVersionTag(embedding, ltr ModelEntry, weightsVersion int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|weightsV%d", embedding.ID(), ltr.ID(), weightsVersion)))
	return hex.EncodeToString(h[:16])
}

// Event describes a registry mutation for subscribers
type Event struct {
	Kind    string // "weights_updated" | "model_activated"
	Version int
	Model   string
}
