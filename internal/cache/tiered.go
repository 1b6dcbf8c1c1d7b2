package cache

import (
	"context"
	"time"
)

// Tiered reads through a local tier into a shared one. A remote hit is
// replicated locally with the remaining TTL unknown, so a short local TTL
// bounds staleness; version-tagged keys make staleness harmless anyway.
type Tiered struct {
	local    Store
	remote   Store
	localTTL time.Duration
}

// NewTiered layers local over remote. localTTL bounds how long a remote hit
// is served from memory.
func NewTiered(local, remote Store, localTTL time.Duration) *Tiered {
	if localTTL <= 0 {
		localTTL = 30 * time.Second
	}
	return &Tiered{local: local, remote: remote, localTTL: localTTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if b, ok := t.local.Get(ctx, key); ok {
		return b, true
	}
	b, ok := t.remote.Get(ctx, key)
	if !ok {
		return nil, false
	}
	t.local.Set(ctx, key, b, t.localTTL)
	return b, true
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	localTTL := t.localTTL
	if ttl < localTTL {
		localTTL = ttl
	}
	t.local.Set(ctx, key, value, localTTL)
	t.remote.Set(ctx, key, value, ttl)
}

func (t *Tiered) Delete(ctx context.Context, key string) {
	t.local.Delete(ctx, key)
	t.remote.Delete(ctx, key)
}

func (t *Tiered) Flush(ctx context.Context, namespace string) {
	t.local.Flush(ctx, namespace)
	t.remote.Flush(ctx, namespace)
}
