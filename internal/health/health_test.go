package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type toggleProbe struct{ up bool }

func (p *toggleProbe) Healthy() bool { return p.up }

func TestManagerAggregation(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	vec := &toggleProbe{up: true}
	cacheProbe := &toggleProbe{up: true}
	m.Register(NewProbeChecker("vector-store", true, vec))
	m.Register(NewProbeChecker("cache", false, cacheProbe))

	ctx := context.Background()
	require.Equal(t, StatusHealthy, m.Check(ctx).Status)
	require.True(t, m.Ready(ctx))

	// Non-critical failure degrades but stays ready
	cacheProbe.up = false
	require.Equal(t, StatusDegraded, m.Check(ctx).Status)
	require.True(t, m.Ready(ctx))

	// Critical failure is unhealthy and not ready
	vec.up = false
	require.Equal(t, StatusUnhealthy, m.Check(ctx).Status)
	require.False(t, m.Ready(ctx))
}

func TestManagerLastResults(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register(NewPingChecker("cache", false, func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	m.Check(context.Background())
	last := m.Last()
	require.Contains(t, last, "cache")
	require.Equal(t, StatusUnhealthy, last["cache"].Status)
	require.Contains(t, last["cache"].Error, "connection refused")
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	probe := &toggleProbe{up: true}
	m.Register(NewProbeChecker("vector-store", true, probe))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	probe.up = false
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Liveness stays green regardless of dependencies
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
