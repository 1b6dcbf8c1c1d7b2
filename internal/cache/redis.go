package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/circuitbreaker"
	"github.com/fathomlabs/fathom/internal/metrics"
)

// Redis is the shared cache tier, wrapped in a circuit breaker so a sick
// Redis degrades to misses instead of failing requests.
type Redis struct {
	cli    *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

// NewRedis connects and pings once; a dead backend at startup is an error
// so misconfiguration is caught early.
func NewRedis(addr string, logger *zap.Logger) (*Redis, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr})
	wrapper := circuitbreaker.NewRedisWrapper(rc, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{cli: wrapper, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("Cache get failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		metrics.RecordCacheLookup(NamespaceOf(key), false)
		return nil, false
	}
	metrics.RecordCacheLookup(NamespaceOf(key), true)
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := r.cli.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Debug("Cache set failed",
			zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.cli.Del(ctx, key).Err(); err != nil {
		r.logger.Debug("Cache delete failed",
			zap.String("key", key), zap.Error(err))
	}
}

// Flush removes every key in a namespace with cursor-based scans
func (r *Redis) Flush(ctx context.Context, namespace string) {
	match := namespace + ":*"
	var cursor uint64
	for {
		keys, next, err := r.cli.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			r.logger.Warn("Cache flush scan failed",
				zap.String("namespace", namespace), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := r.cli.Del(ctx, keys...).Err(); err != nil {
				r.logger.Warn("Cache flush delete failed",
					zap.String("namespace", namespace), zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Healthy reports whether the backend is reachable and the breaker closed
func (r *Redis) Healthy(ctx context.Context) bool {
	if r.cli.IsOpen() {
		return false
	}
	return r.cli.Ping(ctx).Err() == nil
}

// Close releases the underlying connection pool
func (r *Redis) Close() error { return r.cli.Close() }
