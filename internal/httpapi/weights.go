package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/pipeline"
	"github.com/fathomlabs/fathom/internal/registry"
)

// WeightsHandler is the control plane for the active weight set.
type WeightsHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewWeightsHandler(reg *registry.Registry, logger *zap.Logger) *WeightsHandler {
	return &WeightsHandler{registry: reg, logger: logger}
}

// RegisterRoutes registers weight routes on the provided mux.
func (h *WeightsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/weights", h.handleWeights)
}

type putWeightsResponse struct {
	Version int `json:"version"`
}

func (h *WeightsHandler) handleWeights(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w)
	case http.MethodPut:
		h.handlePut(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, pipeline.KindInput, "method not allowed", "", "")
	}
}

func (h *WeightsHandler) handleGet(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.registry.ActiveWeights())
}

func (h *WeightsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	var candidate registry.WeightSet
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.KindInput, "invalid JSON: "+err.Error(), "", "")
		return
	}

	version, err := h.registry.PutWeights(candidate)
	if err != nil {
		h.logger.Warn("Weight update rejected", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, pipeline.KindInput, err.Error(), "", "")
		return
	}

	h.logger.Info("Weights updated", zap.Int("version", version))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(putWeightsResponse{Version: version})
}
