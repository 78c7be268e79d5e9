// Package cache stores serialized slot values and documents. Backends share
// the Cache interface; keys always carry the caller identity so one caller
// never receives a value computed for another.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get retrieves a value, ErrCacheMiss when absent or expired
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value; a zero ttl uses the backend default, a negative ttl never expires
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Clear removes all values under the backend prefix
	Clear(ctx context.Context) error

	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL applies when Set is called with a zero ttl
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "admin:",
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// New builds the backend named by backend. redisAddr is only used by the redis backend.
func New(ctx context.Context, backend, redisAddr string, cfg Config) (Cache, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryCache(cfg), nil
	case BackendRedis:
		return NewRedisCache(ctx, RedisConfig{Addr: redisAddr, Config: cfg})
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}

// Nop is a Cache that never stores anything
type Nop struct{}

// Get always misses
func (Nop) Get(_ context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss{Key: key} }

// Set discards the value
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Delete does nothing
func (Nop) Delete(context.Context, string) error { return nil }

// Clear does nothing
func (Nop) Clear(context.Context) error { return nil }

// Exists always reports false
func (Nop) Exists(context.Context, string) (bool, error) { return false, nil }
