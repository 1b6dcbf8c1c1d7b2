package ratecontrol

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// ErrOverloaded is returned when a component's admission queue is full or a
// waiter's deadline expired before a slot opened.
var ErrOverloaded = errors.New("admission queue overloaded")

// Limiter bounds in-flight concurrency for one outbound dependency. Callers
// over the limit wait in FIFO order until the context deadline; waiters past
// the queue bound are rejected immediately.
type Limiter struct {
	name     string
	sem      *semaphore.Weighted
	maxQueue int64
	waiting  atomic.Int64
}

// NewLimiter admits up to maxInFlight concurrent holders and queues at most
// 4x that many waiters.
func NewLimiter(name string, maxInFlight int) *Limiter {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	return &Limiter{
		name:     name,
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		maxQueue: int64(maxInFlight) * 4,
	}
}

// Acquire blocks until a slot is free or ctx expires. The caller must
// Release exactly once per successful Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		metrics.InFlight.WithLabelValues(l.name).Inc()
		return nil
	}

	if l.waiting.Add(1) > l.maxQueue {
		l.waiting.Add(-1)
		metrics.OverloadRejections.WithLabelValues(l.name).Inc()
		return ErrOverloaded
	}
	defer l.waiting.Add(-1)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		metrics.OverloadRejections.WithLabelValues(l.name).Inc()
		return ErrOverloaded
	}
	metrics.InFlight.WithLabelValues(l.name).Inc()
	return nil
}

// Release frees a slot taken by Acquire
func (l *Limiter) Release() {
	l.sem.Release(1)
	metrics.InFlight.WithLabelValues(l.name).Dec()
}

// Waiting reports the current queue depth, for introspection
func (l *Limiter) Waiting() int64 { return l.waiting.Load() }
