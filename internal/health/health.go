package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of one health check.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CheckResult is one checker's report.
type CheckResult struct {
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	// IsCritical marks checkers that gate readiness; non-critical
	// failures only degrade.
	IsCritical() bool
	Check(ctx context.Context) CheckResult
}

// Overall is the aggregate across all registered checkers.
type Overall struct {
	Status     CheckStatus            `json:"status"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Manager runs checkers on demand and in the background, serving the last
// known results to probes so a slow dependency cannot stall the endpoint.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult

	stop chan struct{}
	once sync.Once
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		interval: 15 * time.Second,
		timeout:  5 * time.Second,
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		stop:     make(chan struct{}),
	}
}

// Register adds a checker; later registrations with the same name replace
// earlier ones.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[c.Name()] = c
}

// Check runs every checker now and returns the aggregate.
func (m *Manager) Check(ctx context.Context) Overall {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	overall := Overall{
		Status:     StatusHealthy,
		Components: make(map[string]CheckResult, len(checkers)),
		Timestamp:  time.Now(),
	}
	for _, c := range checkers {
		res := m.run(ctx, c)
		overall.Components[c.Name()] = res

		switch {
		case res.Status == StatusUnhealthy && c.IsCritical():
			overall.Status = StatusUnhealthy
		case res.Status != StatusHealthy && overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
		}
	}

	m.mu.Lock()
	for name, res := range overall.Components {
		m.last[name] = res
	}
	m.mu.Unlock()
	return overall
}

// Ready reports whether all critical dependencies pass.
func (m *Manager) Ready(ctx context.Context) bool {
	return m.Check(ctx).Status != StatusUnhealthy
}

// Last returns the most recent results without running anything.
func (m *Manager) Last() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}

// Start launches the background check loop.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Check(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loop.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	res := c.Check(ctx)
	res.Duration = time.Since(start)
	res.Timestamp = time.Now()

	if res.Status == StatusUnhealthy {
		m.logger.Warn("Health check failed",
			zap.String("checker", c.Name()),
			zap.String("error", res.Error))
	}
	return res
}
