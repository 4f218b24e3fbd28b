package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"notifier_server/core/port/out"
)

const dedupKeyPrefix = "notifier:dedup:"

// RedisDedupStore marks keys with SETNX so every replica sees redeliveries.
type RedisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedupStore(client *redis.Client, ttl time.Duration) *RedisDedupStore {
	return &RedisDedupStore{client: client, ttl: ttl}
}

func (s *RedisDedupStore) Seen(ctx context.Context, key string) (bool, error) {
	set, err := s.client.SetNX(ctx, dedupKeyPrefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return !set, nil
}

func (s *RedisDedupStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, dedupKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup release failed: %w", err)
	}
	return nil
}

// MemoryDedupStore is a bounded per-process fallback.
type MemoryDedupStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func NewMemoryDedupStore(size int, ttl time.Duration) *MemoryDedupStore {
	return &MemoryDedupStore{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (s *MemoryDedupStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Contains(key) {
		return true, nil
	}
	s.cache.Add(key, struct{}{})
	return false, nil
}

func (s *MemoryDedupStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

var (
	_ out.DedupStore = (*RedisDedupStore)(nil)
	_ out.DedupStore = (*MemoryDedupStore)(nil)
)
