// Package cache is the shared result cache over a Redis-compatible backend.
//
// Failure policy: the cache is an accelerator, never a dependency. Any
// backend or deserialisation error degrades to a miss and is logged; no cache
// failure ever reaches a caller.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL applies when a caller passes a non-positive TTL.
const DefaultTTL = time.Hour

// Cache wraps a Redis client with JSON marshalling and the degradation
// policy above.
type Cache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a cache over an existing Redis client.
func New(rdb redis.UniversalClient, defaultTTL time.Duration, logger *slog.Logger) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, ttl: defaultTTL, logger: logger}
}

// Connect dials a Redis backend from a URL (redis://host:port/db).
func Connect(url, password string, defaultTTL time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	return New(redis.NewClient(opts), defaultTTL, logger), nil
}

// Get unmarshals the cached value into out. Returns false on miss, backend
// error, or a value that no longer deserialises (stale shape after upgrade).
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("cache value undecodable, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

// Set writes through with a TTL. Errors are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serialisable", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Invalidate removes every key under the prefix. Used for explicit refresh.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	if c == nil || c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed during invalidate", "prefix", prefix, "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("cache delete failed during invalidate", "prefix", prefix, "error", err)
		}
	}
}

// Incr atomically increments a counter key, setting its TTL on first use.
// The session guardrails keep all their shared counters here so that no
// process-local mutable state exists. Returns the new value, or ok=false when
// the backend is unreachable (guardrails then fail open).
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Warn("cache incr failed", "key", key, "error", err)
		return 0, false
	}
	if n == 1 && ttl > 0 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			c.logger.Warn("cache expire failed", "key", key, "error", err)
		}
	}
	return n, true
}

// Decr undoes one Incr. Used when a call is rejected after the optimistic
// increment so that rejections never consume budget.
func (c *Cache) Decr(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Decr(ctx, key).Err(); err != nil {
		c.logger.Warn("cache decr failed", "key", key, "error", err)
	}
}
