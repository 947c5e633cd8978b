// Package cache defines the backend interface used to cache package
// index and metadata responses between runs, with file, Redis, MongoDB,
// and no-op implementations.
//
// Backends store opaque bytes under string keys with a TTL. Callers that
// want structured data marshal it themselves; see httputil.Client.Cached
// for the JSON convenience layer.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is a key-value store for cached responses. Implementations must
// be safe for concurrent use.
type Cache interface {
	// Get returns the stored bytes for key. The bool reports whether a
	// fresh entry was found; an expired or absent entry is a miss, not
	// an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of 0 means the entry never
	// expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes the entry for key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// ErrBackend wraps failures of the underlying store (I/O, network).
// Callers treat these as cache misses at worst.
var ErrBackend = errors.New("cache backend error")
