package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 500 * time.Millisecond

type redisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore constructs a Store backed by a shared Redis instance so every
// proxy replica observes the same route table.
func NewRedisStore(addr, password string, db int, prefix string, timeout time.Duration) (Store, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("registry redis ping: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &redisStore{client: client, prefix: prefix, timeout: timeout}, nil
}

func (s *redisStore) Put(ctx context.Context, subdomain, address string) error {
	key := NormalizeKey(subdomain)
	if key == "" {
		return fmt.Errorf("registry: invalid subdomain %q", subdomain)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+key, address, 0).Err(); err != nil {
		return fmt.Errorf("registry put %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, subdomain string) (string, error) {
	key := NormalizeKey(subdomain)
	if key == "" {
		return "", ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("registry get %s: %w", key, err)
	}
	return value, nil
}

// Close releases the underlying Redis connection.
func (s *redisStore) Close() error {
	return s.client.Close()
}
