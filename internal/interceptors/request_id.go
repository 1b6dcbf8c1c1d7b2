package interceptors

import (
	"context"
	"net/http"
)

type contextKey string

// RequestIDKey carries the per-request identifier through the pipeline
const RequestIDKey contextKey = "fathom-request-id"

// WithRequestID returns a context carrying the request identifier
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFromContext extracts the request identifier, if present
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDRoundTripper tags outgoing HTTP requests with the originating
// request identifier so gateway and vector store logs can be correlated.
type RequestIDRoundTripper struct {
	base http.RoundTripper
}

// NewRequestIDRoundTripper wraps base (http.DefaultTransport when nil)
func NewRequestIDRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RequestIDRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper
func (rt *RequestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := RequestIDFromContext(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	return rt.base.RoundTrip(req)
}
