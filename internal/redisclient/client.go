package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping failed")
	}

	return &Client{rdb: rdb}, nil
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// CartStorage keeps serialized carts under a per-session key that expires
// after ttl of inactivity.
type CartStorage struct {
	client *Client
	ttl    time.Duration
}

// NewCartStorage creates cart storage on top of c
func NewCartStorage(c *Client, ttl time.Duration) *CartStorage {
	return &CartStorage{client: c, ttl: ttl}
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// Load returns the stored cart bytes, or nil if the session has no cart.
func (s *CartStorage) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.client.rdb.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return data, nil
}

// Save stores cart bytes and refreshes the expiry
func (s *CartStorage) Save(ctx context.Context, sessionID string, data []byte) error {
	if err := s.client.rdb.Set(ctx, cartKey(sessionID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// Delete removes a cart
func (s *CartStorage) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.rdb.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	return nil
}
