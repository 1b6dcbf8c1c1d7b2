package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fathomlabs/fathom/internal/metrics"
)

type localEntry struct {
	value []byte
	exp   time.Time
}

// Local is an in-process LRU tier. The LRU bounds memory; expiry is tracked
// per entry because namespaces carry different TTLs.
type Local struct {
	mu  sync.Mutex
	lru *lru.LRU[string, localEntry]
}

// NewLocal creates a local tier holding at most capacity entries
func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Local{lru: lru.NewLRU[string, localEntry](capacity, nil, 0)}
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent, ok := l.lru.Get(key)
	if !ok {
		metrics.RecordCacheLookup(NamespaceOf(key), false)
		return nil, false
	}
	if !ent.exp.After(time.Now()) {
		l.lru.Remove(key)
		metrics.RecordCacheLookup(NamespaceOf(key), false)
		return nil, false
	}
	metrics.RecordCacheLookup(NamespaceOf(key), true)
	return ent.value, true
}

func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lru.Add(key, localEntry{value: value, exp: time.Now().Add(ttl)})
}

func (l *Local) Delete(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lru.Remove(key)
}

func (l *Local) Flush(_ context.Context, namespace string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := namespace + ":"
	for _, key := range l.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			l.lru.Remove(key)
		}
	}
}
