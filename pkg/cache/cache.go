// Package cache defines a common interface for cache implementations that
// store calculated digit blocks for subsequent lookup requests.
package cache

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Cache defines an interface for a cache implementation that can be used to
// store calculated digit blocks of pi.
type Cache interface {
	// Return the string that was set for key (or "" if unset) and an error
	// if the implementation failed.
	// NOTE: a cache miss *should not* return an error.
	GetValue(ctx context.Context, key string) (string, error)
	// Store the value string with the provided key, returning an error if
	// the implementation failed.
	SetValue(ctx context.Context, key string, value string) error
}

// NoopCache implements Cache interface without any real caching.
type NoopCache struct{}

// GetValue always returns an empty string and no error for every key.
func (n *NoopCache) GetValue(ctx context.Context, key string) (string, error) {
	return "", nil
}

// SetValue ignores the value and returns nil error.
func (n *NoopCache) SetValue(ctx context.Context, key string, value string) error {
	return nil
}

// NewNoopCache creates a no-operation Cache implementation that satisfies the
// interface requirements without performing any real caching. All values are
// silently dropped by SetValue and calls to GetValue always return an empty
// string.
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// RedisCache implements Cache interface backed by a Redis store. Digit blocks
// never change once calculated, so entries are written without an expiry
// unless one is requested through WithExpiry.
type RedisCache struct {
	*redis.Pool
	expiry time.Duration
}

// RedisCacheOption defines a function signature for RedisCache options.
type RedisCacheOption func(*RedisCache)

// NewRedisCache returns a new Cache implementation using Redis.
func NewRedisCache(ctx context.Context, endpoint string, options ...RedisCacheOption) *RedisCache {
	cache := &RedisCache{
		Pool: &redis.Pool{
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", endpoint)
			},
		},
	}
	for _, option := range options {
		option(cache)
	}
	return cache
}

// WithExpiry sets a time-to-live on every entry written by SetValue. The
// zero value disables expiry.
func WithExpiry(expiry time.Duration) RedisCacheOption {
	return func(r *RedisCache) {
		r.expiry = expiry
	}
}

// GetValue returns the string value stored in Redis under key, if present, or
// an empty string.
func (r *RedisCache) GetValue(ctx context.Context, key string) (string, error) {
	conn := r.Get()
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", key))
	if err == redis.ErrNil {
		// A cache miss is *NOT* an error to propagate
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetValue stores the string key:value pair in Redis.
func (r *RedisCache) SetValue(ctx context.Context, key string, value string) error {
	conn := r.Get()
	defer conn.Close()

	var err error
	if r.expiry > 0 {
		_, err = conn.Do("SET", key, value, "PX", r.expiry.Milliseconds())
	} else {
		_, err = conn.Do("SET", key, value)
	}
	return err
}
