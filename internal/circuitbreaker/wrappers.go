package circuitbreaker

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a breaker. 5xx responses count as
// failures for breaker accounting; 4xx do not trip the breaker.
type HTTPWrapper struct {
	client  *http.Client
	breaker *Breaker
	name    string
	service string
	logger  *zap.Logger
}

func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	b := New(name, HTTPConfig(), logger)
	Collector.Register(name, service, b)
	return &HTTPWrapper{client: client, breaker: b, name: name, service: service, logger: logger}
}

// Do executes the request through the breaker. When a 5xx trips the failure
// accounting the response is still returned to the caller.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.breaker.Execute(req.Context(), func() error {
		var callErr error
		resp, callErr = hw.client.Do(req)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	Collector.RecordRequest(hw.name, hw.service, hw.breaker.State(), err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// IsOpen reports whether the breaker currently rejects requests
func (hw *HTTPWrapper) IsOpen() bool {
	return hw.breaker.State() == StateOpen
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }

// RedisWrapper wraps a Redis client with a breaker. redis.Nil is a miss, not
// a failure.
type RedisWrapper struct {
	client  *redis.Client
	breaker *Breaker
	logger  *zap.Logger
}

func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	b := New("redis", RedisConfig(), logger)
	Collector.Register("redis", "cache", b)
	return &RedisWrapper{client: client, breaker: b, logger: logger}
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	Collector.RecordRequest("redis", "cache", rw.breaker.State(), err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	success := err == nil
	Collector.RecordRequest("redis", "cache", rw.breaker.State(), success)
	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	Collector.RecordRequest("redis", "cache", rw.breaker.State(), err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	Collector.RecordRequest("redis", "cache", rw.breaker.State(), err == nil)
	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	var result *redis.ScanCmd
	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Scan(ctx, cursor, match, count)
		return result.Err()
	})
	Collector.RecordRequest("redis", "cache", rw.breaker.State(), err == nil)
	if err != nil {
		result = redis.NewScanCmd(ctx, nil)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

// IsOpen reports whether the breaker currently rejects requests
func (rw *RedisWrapper) IsOpen() bool {
	return rw.breaker.State() == StateOpen
}
