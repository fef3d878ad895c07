// Package store abstracts the shared backing store used for rate-limit
// windows, cooldown stamps, and the shared cache tier. The production
// implementation is Redis; an in-process implementation provides degraded
// per-instance behavior when Redis is unreachable or not configured.
//
// The interface is deliberately narrow: atomic increment-with-expiry,
// set-if-absent with TTL, TTL inspection, and get/set with TTL. These are
// exactly the primitives the router needs for multi-instance coherence, and
// every operation is atomic on the Redis side so concurrent instances
// converge without explicit coordination.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist (or has expired).
var ErrMiss = errors.New("store: key not found")

// KV is the shared-store contract. Implementations must be safe for
// concurrent use.
type KV interface {
	// IncrWindow atomically increments the counter at key and, when the key
	// is created by this call, starts its expiry window. It returns the
	// post-increment count.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// SetNX sets key to val with the given TTL only if the key is absent.
	// It reports whether the key was set.
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)

	// PTTL returns the remaining lifetime of key. Zero or negative means the
	// key is absent or has no expiry.
	PTTL(ctx context.Context, key string) (time.Duration, error)

	// Get returns the value at key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key=val with the given TTL, replacing any existing value.
	Set(ctx context.Context, key, val string, ttl time.Duration) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
}
