package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// Registry owns the model entries and the active weight set. Reads hand out
// immutable snapshots; writes publish a new snapshot under the lock
// (read-copy-update, so scorers never observe a half-applied change).
type Registry struct {
	logger *zap.Logger

	mu          sync.RWMutex
	current     *Snapshot
	history     []WeightSet  // previous weight sets, readable for audit
	models      []ModelEntry // all entries, any status
	subscribers []func(Event)
}

// Defaults used when no manifest names the models explicitly
const (
	defaultEmbeddingModel  = "all-minilm-l6-v2"
	defaultLTRModel        = "ltr-linear"
	defaultConceptualModel = "conceptual-blend"
)

// Options seeds the registry at startup
type Options struct {
	EmbeddingModel string
	EmbeddingDim   int
	Weights        WeightSet
	// LTRCoefficients orders per the active feature schema; a nil slice
	// selects the similarity-only default [1,0,0].
	LTRCoefficients []float64
}

// New builds a registry with an initial active model per kind and weight
// set version 1.
func New(opts Options, logger *zap.Logger) (*Registry, error) {
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = defaultEmbeddingModel
	}
	if opts.LTRCoefficients == nil {
		opts.LTRCoefficients = []float64{1, 0, 0}
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}

	embedding := ModelEntry{
		Name:      opts.EmbeddingModel,
		Kind:      KindEmbedding,
		Version:   1,
		Dimension: opts.EmbeddingDim,
		Status:    StatusActive,
	}
	ltr := ModelEntry{
		Name:         defaultLTRModel,
		Kind:         KindLTR,
		Version:      1,
		Status:       StatusActive,
		Coefficients: opts.LTRCoefficients,
	}
	conceptual := ModelEntry{
		Name:    defaultConceptualModel,
		Kind:    KindConceptual,
		Version: 1,
		Status:  StatusActive,
	}

	weights := opts.Weights.normalized()
	weights.Version = 1
	if weights.Name == "" {
		weights.Name = "default"
	}

	r := &Registry{
		logger: logger,
		models: []ModelEntry{embedding, ltr, conceptual},
	}
	r.current = &Snapshot{
		Embedding:  embedding,
		LTR:        ltr,
		Conceptual: conceptual,
		Weights:    weights,
		versionTag: computeVersionTag(embedding, ltr, weights.Version),
	}
	metrics.ActiveWeightVersion.Set(float64(weights.Version))
	return r, nil
}

// Snapshot returns the current immutable view
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// ActiveWeights returns the active weight set (renormalized, with version)
func (r *Registry) ActiveWeights() WeightSet {
	return r.Snapshot().Weights
}

// PutWeights validates, renormalizes, and publishes a new weight set,
// returning the new version. A failed put leaves the active set untouched.
func (r *Registry) PutWeights(candidate WeightSet) (int, error) {
	if err := candidate.Validate(); err != nil {
		metrics.WeightUpdates.WithLabelValues("rejected").Inc()
		return 0, err
	}

	r.mu.Lock()
	prev := r.current
	next := candidate.normalized()
	next.Version = prev.Weights.Version + 1
	if next.Name == "" {
		next.Name = prev.Weights.Name
	}

	r.history = append(r.history, prev.Weights)
	r.current = &Snapshot{
		Embedding:  prev.Embedding,
		LTR:        prev.LTR,
		Conceptual: prev.Conceptual,
		Weights:    next,
		versionTag: computeVersionTag(prev.Embedding, prev.LTR, next.Version),
	}
	subs := append([]func(Event){}, r.subscribers...)
	r.mu.Unlock()

	metrics.WeightUpdates.WithLabelValues("accepted").Inc()
	metrics.ActiveWeightVersion.Set(float64(next.Version))
	r.logger.Info("Weight set updated",
		zap.Int("version", next.Version),
		zap.Float64("ltr", next.Fusion["ltr"]),
		zap.Float64("conceptual", next.Fusion["conceptual"]),
	)
	r.notify(subs, Event{Kind: "weights_updated", Version: next.Version})
	return next.Version, nil
}

// ActivateModel publishes a new active entry for its kind; the previous
// active entry of that kind becomes deprecated in the same update.
func (r *Registry) ActivateModel(entry ModelEntry) error {
	if entry.Name == "" || entry.Kind == "" {
		return fmt.Errorf("registry: model entry needs name and kind")
	}
	if entry.Kind == KindEmbedding && entry.Dimension <= 0 {
		return fmt.Errorf("registry: embedding model %s needs a dimension", entry.Name)
	}
	entry.Status = StatusActive

	r.mu.Lock()
	for i := range r.models {
		if r.models[i].Kind == entry.Kind && r.models[i].Status == StatusActive {
			r.models[i].Status = StatusDeprecated
		}
	}
	r.models = append(r.models, entry)

	prev := r.current
	next := &Snapshot{
		Embedding:  prev.Embedding,
		LTR:        prev.LTR,
		Conceptual: prev.Conceptual,
		Weights:    prev.Weights,
	}
	switch entry.Kind {
	case KindEmbedding:
		next.Embedding = entry
	case KindLTR:
		next.LTR = entry
	case KindConceptual:
		next.Conceptual = entry
	default:
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown model kind %q", entry.Kind)
	}
	next.versionTag = computeVersionTag(next.Embedding, next.LTR, next.Weights.Version)
	r.current = next
	subs := append([]func(Event){}, r.subscribers...)
	r.mu.Unlock()

	r.logger.Info("Model activated",
		zap.String("name", entry.Name),
		zap.String("kind", string(entry.Kind)),
		zap.Int("version", entry.Version),
	)
	r.notify(subs, Event{Kind: "model_activated", Model: entry.ID()})
	return nil
}

// Models lists every registered entry, including deprecated ones
func (r *Registry) Models() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelEntry, len(r.models))
	copy(out, r.models)
	return out
}

// WeightHistory returns retired weight sets, oldest first
func (r *Registry) WeightHistory() []WeightSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WeightSet, len(r.history))
	copy(out, r.history)
	return out
}

// Subscribe registers a callback for registry events. Callbacks run on the
// mutating goroutine and must not block.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
