package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/registry"
)

// CacheProbe reports whether the shared cache backend is reachable.
type CacheProbe interface {
	Healthy() bool
}

// IntrospectHandler exposes a read-only view of the serving state for
// operators and probes. It never mutates anything.
type IntrospectHandler struct {
	registry   *registry.Registry
	cacheProbe CacheProbe
	windows    *metrics.Windows
	started    time.Time
	logger     *zap.Logger
}

func NewIntrospectHandler(reg *registry.Registry, probe CacheProbe, windows *metrics.Windows, logger *zap.Logger) *IntrospectHandler {
	if windows == nil {
		windows = metrics.DefaultWindows
	}
	return &IntrospectHandler{
		registry:   reg,
		cacheProbe: probe,
		windows:    windows,
		started:    time.Now(),
		logger:     logger,
	}
}

// RegisterRoutes registers introspection routes on the provided mux.
func (h *IntrospectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/introspect", h.handleIntrospect)
}

type introspectResponse struct {
	Models         map[string]string                     `json:"models"`
	WeightVersion  int                                   `json:"weight_version"`
	VersionTag     string                                `json:"version_tag"`
	CacheAvailable bool                                  `json:"cache_available"`
	StageLatencies map[string]metrics.PercentileSnapshot `json:"stage_latencies_ms"`
	UptimeSeconds  float64                               `json:"uptime_seconds"`
}

func (h *IntrospectHandler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "input", "method not allowed", "", "")
		return
	}

	snap := h.registry.Snapshot()
	cacheUp := h.cacheProbe != nil && h.cacheProbe.Healthy()

	resp := introspectResponse{
		Models: map[string]string{
			"embedding":  snap.Embedding.ID(),
			"ltr":        snap.LTR.ID(),
			"conceptual": snap.Conceptual.ID(),
		},
		WeightVersion:  snap.Weights.Version,
		VersionTag:     snap.VersionTag(),
		CacheAvailable: cacheUp,
		StageLatencies: h.windows.Snapshot(),
		UptimeSeconds:  time.Since(h.started).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
