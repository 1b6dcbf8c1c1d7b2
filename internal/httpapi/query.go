package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/interceptors"
	"github.com/fathomlabs/fathom/internal/pipeline"
)

// QueryHandler serves the ranking endpoint.
type QueryHandler struct {
	orchestrator *pipeline.Orchestrator
	logger       *zap.Logger
}

func NewQueryHandler(o *pipeline.Orchestrator, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{orchestrator: o, logger: logger}
}

// RegisterRoutes registers query routes on the provided mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/query", h.handleQuery)
}

func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, pipeline.KindInput, "method not allowed", "", "")
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := interceptors.WithRequestID(r.Context(), requestID)
	w.Header().Set("X-Request-ID", requestID)

	var req pipeline.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.KindInput, "invalid JSON: "+err.Error(), "decode", requestID)
		return
	}

	resp, err := h.orchestrator.Query(ctx, req)
	if err != nil {
		status, kind, stage := mapError(err)
		h.logger.Warn("Query request failed",
			zap.String("request_id", requestID),
			zap.String("kind", kind),
			zap.Int("status", status))
		writeError(w, status, kind, err.Error(), stage, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// errorEnvelope is the uniform error body for all endpoints.
type errorEnvelope struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message, stage, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		ErrorKind: kind,
		Message:   message,
		Stage:     stage,
		RequestID: requestID,
	})
}

// mapError translates pipeline failures to HTTP statuses.
func mapError(err error) (status int, kind, stage string) {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError, pipeline.KindInternal, ""
	}
	switch se.Kind {
	case pipeline.KindInput:
		return http.StatusBadRequest, se.Kind, se.Stage
	case pipeline.KindOverload:
		return http.StatusTooManyRequests, se.Kind, se.Stage
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout, se.Kind, se.Stage
	case pipeline.KindEmbed, pipeline.KindRetrieval:
		return http.StatusBadGateway, se.Kind, se.Stage
	default:
		return http.StatusInternalServerError, se.Kind, se.Stage
	}
}
