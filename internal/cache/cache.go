// Package cache provides a Redis-backed read-through cache for values that
// are expensive or rate-limited to recompute, primarily signed playback
// and thumbnail URLs. A nil *Cache is valid and simply skips caching, so
// callers never branch on whether Redis is configured.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"vidhost/internal/metrics"
)

// Cache is a thin read-through layer over Redis.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string // host:port
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to cache")
	return &Cache{client: client, logger: logger}, nil
}

// Cached returns the value under key, filling it from fill on a miss. A
// cache error degrades to calling fill directly; the cache never turns a
// working backend into a failure.
func (c *Cache) Cached(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) (string, error)) (string, error) {
	if c == nil {
		return fill(ctx)
	}

	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return val, nil
	}
	if err != redis.Nil {
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
	} else {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	}

	val, err = fill(ctx)
	if err != nil {
		return "", err
	}

	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
	return val, nil
}

// Invalidate drops the given keys, tolerating a missing connection.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidate failed")
	}
}

// Close closes the Redis connection. Safe on a nil cache.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
