package counter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bulwark-auth/bulwark/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared counter store backing the distributed rate
// limiter and the alert-escalation counters. It is the single source of
// truth across process instances.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewClient connects to redis and verifies the connection with a ping.
func NewClient(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr()))
	return client, nil
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Increment atomically increments key and returns the post-increment value.
// The TTL is attached only when the increment lands on 1, so the window
// starts at the first hit and is never extended by later hits.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counter increment failed: %w", err)
	}

	if count == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			// The counter exists without a TTL now; log it rather than fail
			// the caller, a later window will reset it on the next INCR==1.
			s.logger.Error("failed to set counter TTL",
				slog.String("key", key),
				slog.Any("error", err))
		}
	}

	return count, nil
}

// Get returns the current value of key, or 0 when the key does not exist.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter read failed: %w", err)
	}
	return count, nil
}

// Reset removes key, restarting its window on the next increment.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("counter reset failed: %w", err)
	}
	return nil
}
