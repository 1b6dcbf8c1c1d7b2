package health

import (
	"context"
)

// Probe is the minimal surface the serving components expose for health.
type Probe interface {
	Healthy() bool
}

// ProbeChecker wraps a component probe into a Checker.
type ProbeChecker struct {
	name     string
	critical bool
	probe    Probe
}

// NewProbeChecker builds a checker over a component probe. The embedding
// gateway and vector store report unhealthy while their breakers are open.
func NewProbeChecker(name string, critical bool, probe Probe) *ProbeChecker {
	return &ProbeChecker{name: name, critical: critical, probe: probe}
}

func (p *ProbeChecker) Name() string     { return p.name }
func (p *ProbeChecker) IsCritical() bool { return p.critical }

func (p *ProbeChecker) Check(ctx context.Context) CheckResult {
	if p.probe == nil {
		return CheckResult{Status: StatusUnknown, Message: "not configured"}
	}
	if p.probe.Healthy() {
		return CheckResult{Status: StatusHealthy}
	}
	return CheckResult{Status: StatusUnhealthy, Error: p.name + " unavailable"}
}

// PingChecker runs an active round trip against a dependency. Used for the
// cache backend, where an open breaker and a dead server look the same.
type PingChecker struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

func NewPingChecker(name string, critical bool, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, critical: critical, ping: ping}
}

func (p *PingChecker) Name() string     { return p.name }
func (p *PingChecker) IsCritical() bool { return p.critical }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	if err := p.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
