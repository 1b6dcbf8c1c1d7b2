package ratecontrol

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	l := NewLimiter("test", 2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	// Third caller waits; with an expired deadline it is rejected
	expired, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if err := l.Acquire(expired); err != ErrOverloaded {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l.Release()
	l.Release()
}

func TestLimiterWaiterGetsSlot(t *testing.T) {
	l := NewLimiter("test", 1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		done <- l.Acquire(waitCtx)
	}()

	time.Sleep(10 * time.Millisecond)
	l.Release()

	if err := <-done; err != nil {
		t.Fatalf("waiter should get the released slot, got %v", err)
	}
	l.Release()
}
