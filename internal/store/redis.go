package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements KV on a go-redis client. All operations are single round
// trips (or one pipelined transaction) so they stay atomic across instances.
type Redis struct {
	c *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(c *redis.Client) *Redis { return &Redis{c: c} }

// Ping verifies connectivity; used at startup to log degraded mode early.
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

// IncrWindow increments the counter and starts the expiry window when the key
// is new. INCR and EXPIRE NX run in one MULTI/EXEC so a crash between them
// cannot leave an immortal counter.
func (r *Redis) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// SetNX sets key only if absent.
func (r *Redis) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, val, ttl).Result()
}

// PTTL returns the remaining lifetime of key.
func (r *Redis) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.c.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		// -1 no expiry, -2 missing key
		return 0, nil
	}
	return d, nil
}

// Get returns the value at key, mapping redis.Nil to ErrMiss.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	return v, err
}

// Set writes key=val with a TTL.
func (r *Redis) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return r.c.Set(ctx, key, val, ttl).Err()
}

// Del removes key.
func (r *Redis) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}
