package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 200 * time.Millisecond

	b := New("test", config, logger)
	ctx := context.Background()

	if b.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", b.State())
	}

	// Successes keep the breaker closed
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", b.State())
	}

	// Consecutive failures trip it open
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func() error { return errors.New("test error") }); err == nil {
			t.Error("Expected error, got nil")
		}
	}
	if b.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", b.State())
	}

	// Open breaker rejects requests
	if err := b.Execute(ctx, func() error { return nil }); err != ErrOpen {
		t.Errorf("Expected open error, got %v", err)
	}

	// After the timeout the breaker probes in half-open
	time.Sleep(150 * time.Millisecond)
	b.beforeRequest()
	if b.State() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got %s", b.State())
	}

	// Enough consecutive successes close it again
	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("Expected state to be closed, got %s", b.State())
	}
}

func TestBreakerHalfOpenLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.MaxRequests = 1
	config.SuccessThreshold = 5
	config.Timeout = 100 * time.Millisecond

	b := New("test", config, logger)
	ctx := context.Background()

	b.mu.Lock()
	b.state = StateHalfOpen
	b.generation++
	b.counts = Counts{}
	b.mu.Unlock()

	// Hold a probe slot open by taking the request slot without completing it
	if _, err := b.beforeRequest(); err != nil {
		t.Fatalf("first half-open request rejected: %v", err)
	}

	if err := b.Execute(ctx, func() error { return nil }); err != ErrTooManyRequests {
		t.Errorf("Expected ErrTooManyRequests, got %v", err)
	}
}
