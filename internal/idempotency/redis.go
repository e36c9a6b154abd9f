package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "events:seen:"

// RedisStore implements Store with SETNX, which performs the existence check
// and the insert as one operation with a per-key TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis connection, typically the one owned
// by the queue.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) MarkIfNew(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	inserted, err := s.client.SetNX(ctx, keyPrefix+eventID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return inserted, nil
}

func (s *RedisStore) Forget(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to forget event %s: %w", eventID, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
