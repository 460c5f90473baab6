// Package redis provides shared notification rate-limit counters, so the
// per-administrator hourly limit holds across pipeline replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the notification pipeline.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func rateLimitKey(adminID string) string {
	return fmt.Sprintf("notify_rate:%s", adminID)
}

// IncrRateLimit increments the hourly notification counter for an
// administrator and returns the new count. The window TTL is set on the
// first increment.
func (c *Client) IncrRateLimit(ctx context.Context, adminID string, window time.Duration) (int64, error) {
	key := rateLimitKey(adminID)

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr failed: %w", err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("expire failed: %w", err)
		}
	}
	return count, nil
}

// RateLimitCount returns the current hourly counter for an administrator.
func (c *Client) RateLimitCount(ctx context.Context, adminID string) (int64, error) {
	count, err := c.rdb.Get(ctx, rateLimitKey(adminID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get failed: %w", err)
	}
	return count, nil
}

// ResetRateLimit clears the counter for an administrator.
func (c *Client) ResetRateLimit(ctx context.Context, adminID string) error {
	return c.rdb.Del(ctx, rateLimitKey(adminID)).Err()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
