package metrics

import (
	"sort"
	"sync"
	"time"
)

// Windows keeps rolling latency samples per stage so the introspection
// endpoint can report recent percentiles without scraping prometheus.
type Windows struct {
	mu      sync.Mutex
	span    time.Duration
	maxSize int
	stages  map[string][]sample
}

type sample struct {
	at time.Time
	ms float64
}

// PercentileSnapshot summarizes one stage's rolling window
type PercentileSnapshot struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// NewWindows creates rolling windows covering span per stage
func NewWindows(span time.Duration, maxSize int) *Windows {
	if span <= 0 {
		span = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &Windows{span: span, maxSize: maxSize, stages: make(map[string][]sample)}
}

// DefaultWindows is the process-wide 5-minute window set
var DefaultWindows = NewWindows(5*time.Minute, 4096)

// Observe appends one latency sample for the stage
func (w *Windows) Observe(stage string, ms float64) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	samples := w.prune(stage, now)
	samples = append(samples, sample{at: now, ms: ms})
	if len(samples) > w.maxSize {
		samples = samples[len(samples)-w.maxSize:]
	}
	w.stages[stage] = samples
}

// Snapshot returns percentiles for every stage with at least one sample
// inside the window.
func (w *Windows) Snapshot() map[string]PercentileSnapshot {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]PercentileSnapshot, len(w.stages))
	for stage := range w.stages {
		samples := w.prune(stage, now)
		w.stages[stage] = samples
		if len(samples) == 0 {
			continue
		}
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.ms
		}
		sort.Float64s(values)
		out[stage] = PercentileSnapshot{
			Count: len(values),
			P50:   percentile(values, 0.50),
			P95:   percentile(values, 0.95),
			P99:   percentile(values, 0.99),
		}
	}
	return out
}

// prune drops samples older than the window span; caller holds the lock.
func (w *Windows) prune(stage string, now time.Time) []sample {
	samples := w.stages[stage]
	cutoff := now.Add(-w.span)
	first := 0
	for first < len(samples) && samples[first].at.Before(cutoff) {
		first++
	}
	return samples[first:]
}

// percentile uses nearest-rank on an ascending slice
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
