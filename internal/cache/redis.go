// Package cache stores classifier predictions in Redis so repeated analyses
// of the same artifacts skip inference across processes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/dmi/internal/domain"
)

const keyPrefix = "prediction:"

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 7 * 24 * time.Hour

// RedisPredictionCache implements pipeline.PredictionCache on Redis.
type RedisPredictionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPredictionCache connects to Redis and verifies the connection.
func NewRedisPredictionCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisPredictionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisPredictionCache{client: client, ttl: ttl}, nil
}

// Close closes the connection pool.
func (c *RedisPredictionCache) Close() error {
	return c.client.Close()
}

// Ping reports whether Redis is reachable.
func (c *RedisPredictionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached prediction for key.
func (c *RedisPredictionCache) Get(ctx context.Context, key string) (domain.Prediction, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Prediction{}, false, nil
	}
	if err != nil {
		return domain.Prediction{}, false, err
	}
	var p domain.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Prediction{}, false, fmt.Errorf("decode cached prediction %s: %w", key, err)
	}
	return p, true, nil
}

// Set stores p under key for the configured TTL.
func (c *RedisPredictionCache) Set(ctx context.Context, key string, p domain.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}

// Invalidate removes a cached prediction.
func (c *RedisPredictionCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}
