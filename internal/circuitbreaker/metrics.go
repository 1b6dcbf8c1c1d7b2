package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fathom_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_circuit_breaker_failures_total",
			Help: "Total number of failures in circuit breaker",
		},
		[]string{"name", "service"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

// MetricsCollector exports breaker state as prometheus metrics
type MetricsCollector struct {
	breakers map[string]*Breaker
	mu       sync.RWMutex
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[string]*Breaker)}
}

// Register hooks a breaker's state changes into the exported metrics
func (mc *MetricsCollector) Register(name, service string, b *Breaker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.breakers[service+":"+name] = b

	prev := b.config.OnStateChange
	b.config.OnStateChange = func(bName string, from State, to State) {
		if prev != nil {
			prev(bName, from, to)
		}
		breakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
	}
}

// RecordRequest records one admitted or rejected request
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
		breakerFailures.WithLabelValues(name, service).Inc()
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// UpdateMetrics refreshes the state gauges for all registered breakers
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	for key, b := range mc.breakers {
		service, name, ok := splitKey(key)
		if !ok {
			continue
		}
		breakerState.WithLabelValues(name, service).Set(float64(b.State()))
	}
}

func splitKey(key string) (service, name string, ok bool) {
	for i, r := range key {
		if r == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// Collector is the process-wide metrics collector instance
var Collector = NewMetricsCollector()

// StartMetricsCollection refreshes the state gauges in the background
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			Collector.UpdateMetrics()
		}
	}()
}
