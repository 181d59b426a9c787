package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a cached value is absent.
var ErrCacheMiss = errors.New("cache miss")

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
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

// NextOrderSequence increments and returns the per-day order counter.
// The key carries a 48h TTL so stale day counters expire on their own.
func (c *Client) NextOrderSequence(ctx context.Context, day string) (int64, error) {
	key := fmt.Sprintf("ordernum:%s", day)

	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("order sequence incr failed: %w", err)
	}

	if n == 1 {
		if err := c.rdb.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			return n, fmt.Errorf("order sequence expire failed: %w", err)
		}
	}

	return n, nil
}

// CacheOrderView stores a rendered order view with a TTL.
func (c *Client) CacheOrderView(ctx context.Context, orderNumber string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("orderview:%s", orderNumber), payload, ttl).Err()
}

// GetOrderView retrieves a cached order view, ErrCacheMiss when absent.
func (c *Client) GetOrderView(ctx context.Context, orderNumber string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("orderview:%s", orderNumber)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// InvalidateOrderView drops a cached order view after a mutation.
func (c *Client) InvalidateOrderView(ctx context.Context, orderNumber string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("orderview:%s", orderNumber)).Err()
}
