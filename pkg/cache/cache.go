// Package cache provides the shared key/value store used for
// rate-limit state and memoized lookups.
//
// Two backends are provided: a Redis-backed store for shared
// deployments and an in-memory store for single-node and test use.
// Components receive a Store by injection; nothing in this package is
// a process-level singleton.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has
// expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the interface for the shared key/value cache.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound if the key
	// is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with the given TTL. A zero TTL means
	// the entry does not expire.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Memoized wraps an operation with cache-backed memoization.
//
// The key function derives the cache key from the call site, ttl
// bounds staleness, and op performs the underlying lookup on a miss.
// Results are stored as JSON. Cache failures are treated as misses;
// the operation's own error is always surfaced.
func Memoized[T any](store Store, ttl time.Duration, key func() string, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var zero T
		k := key()

		if cached, err := store.Get(ctx, k); err == nil {
			var out T
			if err := json.Unmarshal([]byte(cached), &out); err == nil {
				return out, nil
			}
			// Unparsable entries are treated as absent.
			_ = store.Delete(ctx, k)
		}

		out, err := op(ctx)
		if err != nil {
			return zero, err
		}

		if encoded, err := json.Marshal(out); err == nil {
			_ = store.Set(ctx, k, string(encoded), ttl)
		}

		return out, nil
	}
}
