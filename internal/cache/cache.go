// Package cache stores inference responses in Redis so repeated prompts do not
// reach the provider twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "tutor:llm:"

// Redis is a response cache backed by a Redis client.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to redisURL and verifies the connection. A zero ttl keeps
// entries until evicted by Redis.
func NewRedis(redisURL string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("response cache connected", zap.String("addr", opts.Addr), zap.Duration("ttl", ttl))
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Key derives a cache key from the parts of a request.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value for key. A miss is not an error.
func (c *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	c.logger.Debug("cache hit", zap.String("key", key))
	return v, true, nil
}

// Set stores value under key.
func (c *Redis) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (c *Redis) Close() error {
	return c.rdb.Close()
}
