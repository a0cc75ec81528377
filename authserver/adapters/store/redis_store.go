package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/passport/authserver/ports"
)

// RedisStore is a Redis implementation of the ports.Store interface
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) ports.Store {
	return &RedisStore{
		client: client,
		prefix: "passport:invalidated:",
	}
}

// InvalidateToken marks a token as invalidated in Redis and reports whether
// it already was
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) (bool, error) {
	if expiry <= 0 {
		return false, nil
	}

	set, err := s.client.SetNX(ctx, s.prefix+tokenID, "1", expiry).Result()
	if err != nil {
		return false, fmt.Errorf("failed to invalidate token: %w", err)
	}

	return !set, nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	return n > 0, nil
}
