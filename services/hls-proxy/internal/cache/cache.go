// Package cache stores rewritten playlists keyed by normalized target URL.
//
// Primary backend: Redis (env REDIS_URL), shared across replicas.
// Fallback: an in-process expiring LRU.
package cache

import (
	"context"
	"time"
)

// KeyPrefix namespaces playlist entries in shared backends.
const KeyPrefix = "hls-proxy:playlist:"

// Store is a key-value cache with per-entry TTL. Entries are immutable once
// written; a later Set for the same key simply replaces the value. Set with
// a non-positive TTL is a no-op, so no entry ever lives without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Pinger is implemented by backends with a remote dependency worth probing
// from readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStore returns a Redis store when redisURL is set, otherwise an
// in-memory store holding at most maxEntries entries for at most ttl.
func NewStore(redisURL string, maxEntries int, ttl time.Duration) (Store, error) {
	if redisURL != "" {
		return NewRedisStore(redisURL)
	}
	return NewMemoryStore(maxEntries, ttl), nil
}
