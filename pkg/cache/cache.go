// Package cache provides the shared caching abstraction used by the
// authorization engine, with in-memory and Redis backends.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found in the cache
var ErrNotFound = errors.New("key not found in cache")

// Cache interface defines caching operations
type Cache interface {
	// Get retrieves a value from the cache into value; returns ErrNotFound on miss
	Get(ctx context.Context, key string, value any) error
	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes a single key
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key sharing the given prefix
	DeleteByPrefix(ctx context.Context, prefix string) error
	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)
	// Flush clears all data from the cache
	Flush(ctx context.Context) error
	// Close closes the cache connection
	Close() error
}
