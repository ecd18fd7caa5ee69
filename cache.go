package veloq

import (
	"context"
	"strings"
	"sync"
)

// Cache is the interface of a byte-level store for compiled statements.
// Users may back it with their preferred caching solution (e.g., Redis,
// Memcached); MapCache is an in-process implementation.
//
// Only compiled SQL is stored in a Cache, never result rows.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error
}

// CacheKey builds the key of a compiled statement.
type CacheKey struct {
	Dialect string
	Table   string
	Name    string // Caller-chosen statement name.
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return strings.Join([]string{k.Dialect, k.Table, k.Name}, ":")
}

// MapCache is a Cache kept in process memory.
type MapCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMapCache returns an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string][]byte)}
}

// Get implements Cache.
func (c *MapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[key], nil
}

// Set implements Cache.
func (c *MapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

// Delete implements Cache.
func (c *MapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// Len returns the number of stored entries.
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
