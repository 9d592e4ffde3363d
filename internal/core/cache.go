// Package core defines the interfaces the domain packages are built against;
// concrete adapters (Postgres, Redis) live under internal/data.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// This is useful for implementing distributed locks and deduplication.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// ScriptCacheRepository is the subset of CacheRepository backends capable of
// running server-side Lua scripts atomically. Nothing in this module
// implements or uses it: token bucket consumption and lease acquisition
// (internal/data TokenBucketRepo and LeaseRepo) get their atomicity from
// WATCH/MULTI transactions on the Redis client instead.
type ScriptCacheRepository interface {
	CacheRepository

	// EvalSHA1 runs a Lua script against the given keys/args and returns its
	// raw result. Implementations load the script on first use and reuse the
	// cached SHA via EVALSHA afterward.
	EvalSHA1(ctx context.Context, script string, keys []string, args ...any) (any, error)
}
