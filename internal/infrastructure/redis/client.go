package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/eventrelay/internal/infrastructure/config"
	"github.com/cassiomorais/eventrelay/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and waits until it answers PING, retrying
// with backoff up to cfg.ConnectRetries times.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  uint(attempts),
		InitialDelay: delay,
		MaxDelay:     10 * delay,
	}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis after %d attempts: %w", attempts, err)
	}

	return client, nil
}
