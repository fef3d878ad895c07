// Package ratelimit enforces the per-(user, command) sliding-window limit and
// the per-command cooldown gate.
//
// Both checks run against the shared store so that multiple router instances
// converge on one global limit. When the shared store errors, the limiter
// degrades to a per-instance in-memory window: limits become per-instance
// rather than global, which is a documented reduced guarantee, and the
// degradation is logged once per failure.
//
// Cooldown is distinct from the rate limit: it has per-command configuration
// (the binding's cooldown_seconds) rather than one global window, and it is
// an atomic set-if-absent so two concurrent requests by the same user cannot
// both pass the gate.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/openflux/eventrouter/internal/store"
)

// Decision is the outcome of an Allow check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // positive when denied
}

// Limiter counts command invocations per (user, command) key within a moving
// window. It is safe for concurrent use.
type Limiter struct {
	shared   store.KV // nil when no shared store is configured
	fallback store.KV
	log      zerolog.Logger
}

// NewLimiter constructs a Limiter. shared may be nil, in which case every
// check runs on the in-process fallback.
func NewLimiter(shared store.KV, log zerolog.Logger) *Limiter {
	return &Limiter{
		shared:   shared,
		fallback: store.NewMemory(),
		log:      log,
	}
}

// Key builds the canonical limiter key for a user and command.
func Key(userID, command string) string {
	return "rl:" + userID + ":" + command
}

// Allow increments the window counter for key and decides whether this call
// is within limit. The first limit calls inside a window succeed; subsequent
// calls are denied with a positive RetryAfter derived from the window's
// remaining TTL.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	kv := l.shared
	if kv == nil {
		kv = l.fallback
	}

	count, err := kv.IncrWindow(ctx, key, window)
	if err != nil && kv != l.fallback {
		l.log.Warn().Err(err).Str("key", key).
			Msg("shared store unavailable, rate limit degraded to per-instance")
		kv = l.fallback
		count, err = kv.IncrWindow(ctx, key, window)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	if count <= int64(limit) {
		return Decision{Allowed: true, Remaining: limit - int(count)}, nil
	}

	retry := window
	if ttl, err := kv.PTTL(ctx, key); err == nil && ttl > 0 {
		retry = ttl
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// RetryAfterSeconds rounds a retry hint up to whole seconds for headers and
// user-facing messages; a denied decision never reports zero.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Cooldown gates successive uses of the same command by the same user. The
// stamp is written with an atomic set-if-absent, so the check and the claim
// are one operation: under concurrency exactly one caller wins the gate.
type Cooldown struct {
	shared   store.KV
	fallback store.KV
	log      zerolog.Logger
}

// NewCooldown constructs a Cooldown gate. shared may be nil.
func NewCooldown(shared store.KV, log zerolog.Logger) *Cooldown {
	return &Cooldown{
		shared:   shared,
		fallback: store.NewMemory(),
		log:      log,
	}
}

func cooldownKey(userID, command string) string {
	return "cd:" + userID + ":" + command
}

// Acquire claims the cooldown stamp for (userID, command). It returns
// ready=true when the caller won the gate; otherwise remaining carries the
// time left until the command is usable again. A non-positive duration is
// always ready and writes nothing.
func (c *Cooldown) Acquire(ctx context.Context, userID, command string, d time.Duration) (ready bool, remaining time.Duration) {
	if d <= 0 {
		return true, 0
	}
	key := cooldownKey(userID, command)

	kv := c.shared
	if kv == nil {
		kv = c.fallback
	}

	ok, err := kv.SetNX(ctx, key, "1", d)
	if err != nil && kv != c.fallback {
		c.log.Warn().Err(err).Str("key", key).
			Msg("shared store unavailable, cooldown degraded to per-instance")
		kv = c.fallback
		ok, err = kv.SetNX(ctx, key, "1", d)
	}
	if err != nil {
		// Failing open here would let a store outage disable all cooldowns;
		// failing closed would block all commands. Open is the lesser harm.
		c.log.Error().Err(err).Str("key", key).Msg("cooldown check failed, allowing")
		return true, 0
	}
	if ok {
		return true, 0
	}

	rem, err := kv.PTTL(ctx, key)
	if err != nil || rem <= 0 {
		rem = d
	}
	return false, rem
}

// Release clears the stamp, used when dispatch fails before the handler ran
// so the user is not penalized for an infrastructure error.
func (c *Cooldown) Release(ctx context.Context, userID, command string) {
	key := cooldownKey(userID, command)
	kv := c.shared
	if kv == nil {
		kv = c.fallback
	}
	if err := kv.Del(ctx, key); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cooldown release failed")
	}
}
