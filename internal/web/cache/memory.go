package cache

import (
	"context"
	"strings"
	"time"

	"github.com/erni27/imcache"
)

// MemoryCache is an in-process cache with per-entry expiry backed by imcache
type MemoryCache struct {
	store  *imcache.Cache[string, []byte]
	config Config
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(config Config) *MemoryCache {
	return &MemoryCache{
		store:  imcache.New[string, []byte](),
		config: config,
	}
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := m.store.Get(m.config.Prefix + key)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}
	return value, nil
}

// Set stores a value in the cache with a TTL
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	exp := imcache.WithNoExpiration()
	if ttl > 0 {
		exp = imcache.WithExpiration(ttl)
	}
	m.store.Set(m.config.Prefix+key, value, exp)
	return nil
}

// Delete removes a value from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.Remove(m.config.Prefix + key)
	return nil
}

// Clear removes all values from the cache
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.RemoveAll()
	return nil
}

// Exists checks if a key exists in the cache
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.store.Get(m.config.Prefix + key)
	return ok, nil
}

// DeletePrefix removes every key starting with prefix, used to drop all
// entries of one identity
func (m *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := m.config.Prefix + prefix
	for key := range m.store.GetAll() {
		if strings.HasPrefix(key, full) {
			m.store.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries
func (m *MemoryCache) Len() int {
	return m.store.Len()
}

// Close releases the cache
func (m *MemoryCache) Close() error {
	m.store.Close()
	return nil
}
