package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OAuthStateKey Redis key prefix for OAuth state nonces
const OAuthStateKey = "notifier:oauth:state:"

// RedisOAuthStateStore makes OAuth state values single-use.
type RedisOAuthStateStore struct {
	client *redis.Client
}

func NewRedisOAuthStateStore(client *redis.Client) *RedisOAuthStateStore {
	return &RedisOAuthStateStore{client: client}
}

// Remember records a freshly issued nonce.
func (s *RedisOAuthStateStore) Remember(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" {
		return errors.New("nonce cannot be empty")
	}
	if err := s.client.Set(ctx, OAuthStateKey+nonce, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store OAuth state: %w", err)
	}
	return nil
}

// Consume deletes the nonce and reports whether it was still present.
func (s *RedisOAuthStateStore) Consume(ctx context.Context, nonce string) (bool, error) {
	if nonce == "" {
		return false, nil
	}

	// GETDEL is atomic, so a replayed state finds nothing.
	_, err := s.client.GetDel(ctx, OAuthStateKey+nonce).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume OAuth state: %w", err)
	}
	return true, nil
}
