package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/fedgate/domain"
	"github.com/redis/go-redis/v9"
)

// Cache is a TTL cache of JSON encoded values. It is never authoritative:
// every value must be reconstructible from the durable store.
type Cache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key Key, dest interface{}) (bool, error)
	Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...Key) error
}

// RedisCache implements Cache on a Redis client.
// It is safe for concurrent use.
type RedisCache struct {
	rdb redis.UniversalClient
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Get reads a key, retrying once on a transport error.
func (c *RedisCache) Get(ctx context.Context, key Key, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key.String()).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil {
		raw, err = c.rdb.Get(ctx, key.String()).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w: %w", key, domain.ErrTransient, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		// An undecodable entry is dropped and recomputed.
		c.rdb.Del(ctx, key.String())
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w: %w", key, domain.ErrTransient, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	if err := c.rdb.Del(ctx, names...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w: %w", domain.ErrTransient, err)
	}
	return nil
}

// Noop is a Cache that never holds anything. Used when no cache endpoint
// is configured; every read becomes a recompute.
type Noop struct{}

func (Noop) Get(context.Context, Key, interface{}) (bool, error) { return false, nil }

func (Noop) Set(context.Context, Key, interface{}, time.Duration) error { return nil }

func (Noop) Delete(context.Context, ...Key) error { return nil }

// GetOrCompute returns the cached value for key, or calls compute, caches
// its result for ttl and returns it. Cache failures only cost performance:
// a failed read is a miss and a failed write is logged. Errors from compute
// are returned as-is and never cached.
func GetOrCompute[T any](ctx context.Context, c Cache, key Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("Cache: Read of %s failed, recomputing: %v", key, err)
	}
	if hit {
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		log.Printf("Cache: Failed to populate %s: %v", key, err)
	}
	return value, nil
}

// Invalidate deletes keys as one batch, logging instead of failing: a
// missed invalidation is bounded by the entry's TTL.
func Invalidate(ctx context.Context, c Cache, keys ...Key) {
	if err := c.Delete(ctx, keys...); err != nil {
		log.Printf("Cache: Failed to invalidate %d keys: %v", len(keys), err)
	}
}
