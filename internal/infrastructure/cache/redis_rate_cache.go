// Package cache persists the last successfully fetched exchange rate so a
// rate-endpoint outage degrades to yesterday's value instead of the
// configured default. Redis backs multi-instance deployments; the memory
// variant covers single-binary setups and tests.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/infrastructure/rates"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisRateCache stores the last-good rate under one key per currency.
type RedisRateCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisRateCache dials Redis and verifies the connection before
// returning the cache.
func NewRedisRateCache(cfg RedisConfig, currency string, ttl time.Duration, logger *zap.Logger) (*RedisRateCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRateCacheWithClient(client, currency, ttl, logger), nil
}

// NewRedisRateCacheWithClient wraps an existing client; useful in tests and
// when sharing a client across components.
func NewRedisRateCacheWithClient(client *redis.Client, currency string, ttl time.Duration, logger *zap.Logger) *RedisRateCache {
	return &RedisRateCache{
		client: client,
		key:    "rates:last_good:" + currency,
		ttl:    ttl,
		logger: logger,
	}
}

// LastGood returns the cached rate. Any Redis error reads as a miss; the
// caller has further fallbacks.
func (c *RedisRateCache) LastGood(ctx context.Context) (decimal.Decimal, bool) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false
	}
	if err != nil {
		c.logger.Warn("rate cache read failed", zap.String("key", c.key), zap.Error(err))
		return decimal.Zero, false
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		c.logger.Warn("rate cache held an unusable value", zap.String("value", raw))
		return decimal.Zero, false
	}
	return rate, true
}

// StoreLastGood writes the rate with the configured TTL.
func (c *RedisRateCache) StoreLastGood(ctx context.Context, rate decimal.Decimal) error {
	if err := c.client.Set(ctx, c.key, rate.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store last-good rate: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisRateCache) Close() error {
	return c.client.Close()
}

var _ rates.Cache = (*RedisRateCache)(nil)
