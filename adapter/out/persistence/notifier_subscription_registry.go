package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
)

const (
	subscriptionKeyPrefix = "notifier:subscription:"
	subscriptionIndexKey  = "notifier:subscriptions"
)

// MemorySubscriptionRegistry keeps subscriptions in process memory until
// they expire.
type MemorySubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]*domain.Subscription
	now  func() time.Time
}

func NewMemorySubscriptionRegistry() *MemorySubscriptionRegistry {
	return &MemorySubscriptionRegistry{
		subs: make(map[string]*domain.Subscription),
		now:  time.Now,
	}
}

func (r *MemorySubscriptionRegistry) Save(_ context.Context, sub *domain.Subscription) error {
	if sub == nil || sub.ID == "" {
		return apperr.ValidationError("subscription id is required")
	}
	cp := *sub
	r.mu.Lock()
	r.subs[sub.ID] = &cp
	r.mu.Unlock()
	return nil
}

func (r *MemorySubscriptionRegistry) Get(_ context.Context, subscriptionID string) (*domain.Subscription, error) {
	r.mu.RLock()
	sub, ok := r.subs[subscriptionID]
	r.mu.RUnlock()
	if !ok || !sub.IsActive(r.now()) {
		return nil, apperr.NotFound("subscription")
	}
	cp := *sub
	return &cp, nil
}

// List returns active subscriptions ordered by expiry and drops expired ones.
func (r *MemorySubscriptionRegistry) List(_ context.Context) ([]*domain.Subscription, error) {
	now := r.now()

	r.mu.Lock()
	result := make([]*domain.Subscription, 0, len(r.subs))
	for id, sub := range r.subs {
		if !sub.IsActive(now) {
			delete(r.subs, id)
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}
	r.mu.Unlock()

	sortByExpiry(result)
	return result, nil
}

func (r *MemorySubscriptionRegistry) Delete(_ context.Context, subscriptionID string) error {
	r.mu.Lock()
	delete(r.subs, subscriptionID)
	r.mu.Unlock()
	return nil
}

// RedisSubscriptionRegistry stores each subscription as JSON with a TTL
// matching its expiry, plus a set of known ids.
type RedisSubscriptionRegistry struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisSubscriptionRegistry(client *redis.Client) *RedisSubscriptionRegistry {
	return &RedisSubscriptionRegistry{client: client, now: time.Now}
}

func (r *RedisSubscriptionRegistry) Save(ctx context.Context, sub *domain.Subscription) error {
	if sub == nil || sub.ID == "" {
		return apperr.ValidationError("subscription id is required")
	}
	ttl := sub.ExpirationDateTime.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, sub.ID)
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, subscriptionKeyPrefix+sub.ID, data, ttl)
	pipe.SAdd(ctx, subscriptionIndexKey, sub.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (r *RedisSubscriptionRegistry) Get(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	data, err := r.client.Get(ctx, subscriptionKeyPrefix+subscriptionID).Bytes()
	if err == redis.Nil {
		return nil, apperr.NotFound("subscription")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &sub, nil
}

// List returns stored subscriptions ordered by expiry. Index entries whose
// key has expired are pruned.
func (r *RedisSubscriptionRegistry) List(ctx context.Context) ([]*domain.Subscription, error) {
	ids, err := r.client.SMembers(ctx, subscriptionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Subscription{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = subscriptionKeyPrefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	result := make([]*domain.Subscription, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var sub domain.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		result = append(result, &sub)
	}
	if len(stale) > 0 {
		r.client.SRem(ctx, subscriptionIndexKey, stale...)
	}

	sortByExpiry(result)
	return result, nil
}

func (r *RedisSubscriptionRegistry) Delete(ctx context.Context, subscriptionID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, subscriptionKeyPrefix+subscriptionID)
	pipe.SRem(ctx, subscriptionIndexKey, subscriptionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func sortByExpiry(subs []*domain.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].ExpirationDateTime.Before(subs[j].ExpirationDateTime)
	})
}

var (
	_ out.SubscriptionRegistry = (*MemorySubscriptionRegistry)(nil)
	_ out.SubscriptionRegistry = (*RedisSubscriptionRegistry)(nil)
)
