package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_requests_total",
			Help: "Total number of ranking requests",
		},
		[]string{"status"},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_stage_latency_ms",
			Help:    "Per-stage pipeline latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 1500, 3000},
		},
		[]string{"stage"},
	)

	DegradedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_degraded_responses_total",
			Help: "Total number of responses served with a non-fatal fallback",
		},
		[]string{"reason"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_errors_total",
			Help: "Total number of request failures by error kind",
		},
		[]string{"kind"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_cache_hits_total",
			Help: "Total number of cache hits by namespace",
		},
		[]string{"namespace"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_cache_misses_total",
			Help: "Total number of cache misses by namespace",
		},
		[]string{"namespace"},
	)

	// Embedding gateway metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_embedding_requests_total",
			Help: "Total number of embedding gateway calls",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Registry metrics
	WeightUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_weight_updates_total",
			Help: "Total number of weight set updates",
		},
		[]string{"status"},
	)

	ActiveWeightVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_active_weight_version",
			Help: "Version of the currently active weight set",
		},
	)

	// Backpressure metrics
	OverloadRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_overload_rejections_total",
			Help: "Total number of requests rejected by admission control",
		},
		[]string{"component"},
	)

	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fathom_in_flight_requests",
			Help: "Requests currently holding an admission slot",
		},
		[]string{"component"},
	)
)

// RecordStageLatency records one stage timing in both the prometheus
// histogram and the rolling percentile window.
func RecordStageLatency(stage string, ms float64) {
	StageLatency.WithLabelValues(stage).Observe(ms)
	DefaultWindows.Observe(stage, ms)
}

// RecordEmbeddingMetrics records one embedding gateway call
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records one vector store search
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordCacheLookup records a cache hit or miss for a namespace
func RecordCacheLookup(namespace string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(namespace).Inc()
	} else {
		CacheMisses.WithLabelValues(namespace).Inc()
	}
}
