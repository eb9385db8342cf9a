// shared/pkg/redis/redis.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr string) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	return &Client{client: client}
}

// NewRedisClientFromURL accepts either a redis:// URL or a bare host:port.
func NewRedisClientFromURL(raw string) (*Client, error) {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return NewRedisClient(raw), nil
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	return &Client{client: redis.NewClient(opts)}, nil
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get retrieves a value from Redis
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return val, err
}

// Set stores a value in Redis
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Delete removes a key from Redis
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// IncrWindow increments a fixed-window counter and sets its expiry on the
// first hit of the window. It returns the count after the increment.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return n, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n, nil
}

// setIfNewer stores value under a version in a hash and refreshes the TTL,
// unless the stored version is already at least as new.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// SetIfNewer writes a versioned value. It reports false when the key already
// holds the same or a later version, so a slow writer never overwrites a
// fresher one.
func (c *Client) SetIfNewer(ctx context.Context, key string, version int64, value []byte, expiration time.Duration) (bool, error) {
	n, err := setIfNewer.Run(ctx, c.client, []string{key}, version, value, expiration.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", key, err)
	}
	return n == 1, nil
}

// GetVersioned reads a value written by SetIfNewer.
func (c *Client) GetVersioned(ctx context.Context, key string) (string, error) {
	val, err := c.client.HGet(ctx, key, "d").Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return val, err
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
