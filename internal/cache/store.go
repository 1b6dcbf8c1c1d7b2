package cache

import (
	"context"
	"time"
)

// Store is the byte-level cache contract. Misses are never errors: a
// transient backend failure surfaces as (nil, false) and the pipeline
// proceeds without the cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context, namespace string)
}

// Noop is a Store that caches nothing; used when no backend is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)             { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration)     {}
func (Noop) Delete(context.Context, string)                         {}
func (Noop) Flush(context.Context, string)                          {}
