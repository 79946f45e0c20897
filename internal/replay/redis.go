package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "fulfillment:replay:"

// RedisStore is a Redis-backed Store, for multi-instance deployments where a
// refreshed callback page may hit a different replica.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. The client's lifecycle belongs
// to the caller; Close here is a no-op.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, token string) (*Marker, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+hashToken(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("replay lookup: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("replay unmarshal marker: %w", err)
	}
	return &m, nil
}

// Mark implements Store.
func (s *RedisStore) Mark(ctx context.Context, token string, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("replay marshal marker: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+hashToken(token), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("replay mark: %w", err)
	}
	return nil
}

// Close implements Store. The shared Redis client is closed by the app.
func (s *RedisStore) Close() error {
	return nil
}
