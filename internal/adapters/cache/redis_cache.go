package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/core"
)

const redisKeyPrefix = "analysis:"

// RedisCache is a Redis-backed implementation of the AnalysisCache
// interface. Entries expire through Redis TTLs, so Cleanup is a no-op.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache creates a Redis analysis cache and verifies connectivity.
func NewRedisCache(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, logger: logger}, nil
}

// Get retrieves a cached verdict for a message.
func (c *RedisCache) Get(ctx context.Context, messageID string) (*core.EmailAnalysis, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+messageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var analysis core.EmailAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		c.logger.Warn("Discarding undecodable cache entry",
			zap.String("message_id", messageID),
			zap.Error(err))
		return nil, nil
	}
	return &analysis, nil
}

// Set stores a classifier verdict with the given TTL.
func (c *RedisCache) Set(ctx context.Context, messageID string, analysis *core.EmailAnalysis, ttl time.Duration) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+messageID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry.
func (c *RedisCache) Delete(ctx context.Context, messageID string) error {
	return c.client.Del(ctx, redisKeyPrefix+messageID).Err()
}

// Cleanup is a no-op; Redis expires entries itself.
func (c *RedisCache) Cleanup(ctx context.Context) error {
	return nil
}

// Stop closes the Redis connection.
func (c *RedisCache) Stop() {
	if err := c.client.Close(); err != nil {
		c.logger.Error("Failed to close redis client", zap.Error(err))
	}
}
