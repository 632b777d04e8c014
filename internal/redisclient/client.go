package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const fulfillmentTokenKey = "fulfillment:admin_token"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetToken returns the cached fulfillment admin token, or "" when absent
func (c *Client) GetToken(ctx context.Context) (string, error) {
	token, err := c.rdb.Get(ctx, fulfillmentTokenKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cached token: %w", err)
	}
	return token, nil
}

// SetToken caches the fulfillment admin token with a TTL
func (c *Client) SetToken(ctx context.Context, token string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fulfillmentTokenKey, token, ttl).Err()
}

// DeleteToken drops the cached token, forcing re-authentication
func (c *Client) DeleteToken(ctx context.Context) error {
	return c.rdb.Del(ctx, fulfillmentTokenKey).Err()
}
