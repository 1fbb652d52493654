package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// RedisConfig holds the connection settings for the shared cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache backs idempotency records and reply memoization with a
// shared Redis instance, letting multiple stateless workers see each
// other's records. An unreachable Redis degrades to cache misses.
type RedisCache struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewRedisCache creates a Redis-backed cache. Connectivity is probed but
// not required; failures surface per-call and are logged.
func NewRedisCache(cfg RedisConfig, logger zerolog.Logger) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, cache will miss until it recovers")
	}

	return &RedisCache{rdb: rdb, logger: logger}
}

// Get retrieves a value; any Redis failure reads as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, false
	}
	return value, true
}

// Set stores a value with a TTL in seconds.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	ttl := time.Duration(ttlSeconds) * time.Second
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Ensure RedisCache implements the Cache interface.
var _ ports.Cache = (*RedisCache)(nil)
