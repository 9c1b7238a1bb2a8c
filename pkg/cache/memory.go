package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache implements Cache with a bounded in-process LRU store.
// Values round-trip through JSON so the memory and Redis backends are
// interchangeable from the caller's point of view.
type MemoryCache struct {
	store *lru.Cache[string, memoryEntry]
	mu    sync.Mutex
}

type memoryEntry struct {
	data       []byte
	expiration time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxItems entries
func NewMemoryCache(maxItems int) (*MemoryCache, error) {
	store, err := lru.New[string, memoryEntry](maxItems)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{store: store}, nil
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	entry, ok := c.store.Get(key)
	if ok && time.Now().After(entry.expiration) {
		c.store.Remove(key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(entry.data, value)
}

// Set stores a value in the cache with the given TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.store.Add(key, memoryEntry{
		data:       data,
		expiration: time.Now().Add(ttl),
	})
	c.mu.Unlock()
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.store.Remove(key)
	c.mu.Unlock()
	return nil
}

// DeleteByPrefix removes every key sharing the given prefix
func (c *MemoryCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	for _, key := range c.store.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.store.Remove(key)
		}
	}
	c.mu.Unlock()
	return nil
}

// Exists checks if a non-expired entry exists for the key
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store.Peek(key)
	if !ok {
		return false, nil
	}
	return !time.Now().After(entry.expiration), nil
}

// Flush clears all data from the cache
func (c *MemoryCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.store.Purge()
	c.mu.Unlock()
	return nil
}

// Close closes the cache
func (c *MemoryCache) Close() error {
	return nil
}
