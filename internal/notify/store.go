package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/piwi3910/vnfweave/internal/store"
)

// Redis key layout for subscriptions.
const (
	subscriptionKeyPrefix = "vnf:subscription:"
	subscriptionSetKey    = "vnf:subscriptions"
)

// SubscriptionStore persists notification subscriptions.
type SubscriptionStore interface {
	// Create persists a new subscription.
	Create(ctx context.Context, sub *Subscription) error

	// Get returns one subscription. Returns store.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Subscription, error)

	// List returns all subscriptions.
	List(ctx context.Context) ([]*Subscription, error)

	// Delete removes a subscription.
	Delete(ctx context.Context, id string) error
}

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests and
// single-process deployments.
type MemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewMemorySubscriptionStore creates an empty MemorySubscriptionStore.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*Subscription)}
}

// Create persists a new subscription.
func (s *MemorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID]; exists {
		return store.ErrAlreadyExists
	}
	sub.CreatedAt = time.Now().UTC()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

// Get returns one subscription.
func (s *MemorySubscriptionStore) Get(_ context.Context, id string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, exists := s.subs[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// List returns all subscriptions.
func (s *MemorySubscriptionStore) List(_ context.Context) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		cp := *sub
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes a subscription.
func (s *MemorySubscriptionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

// RedisSubscriptionStore persists subscriptions in Redis.
type RedisSubscriptionStore struct {
	client redis.UniversalClient
}

// NewRedisSubscriptionStore creates a RedisSubscriptionStore on an existing
// client.
func NewRedisSubscriptionStore(client redis.UniversalClient) *RedisSubscriptionStore {
	return &RedisSubscriptionStore{client: client}
}

// Create persists a new subscription.
func (s *RedisSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	key := subscriptionKeyPrefix + sub.ID

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	if exists > 0 {
		return store.ErrAlreadyExists
	}

	sub.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, subscriptionSetKey, sub.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

// Get returns one subscription.
func (s *RedisSubscriptionStore) Get(ctx context.Context, id string) (*Subscription, error) {
	data, err := s.client.Get(ctx, subscriptionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription %s: %w", id, err)
	}
	return &sub, nil
}

// List returns all subscriptions.
func (s *RedisSubscriptionStore) List(ctx context.Context) ([]*Subscription, error) {
	ids, err := s.client.SMembers(ctx, subscriptionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	subs := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Delete removes a subscription.
func (s *RedisSubscriptionStore) Delete(ctx context.Context, id string) error {
	key := subscriptionKeyPrefix + id

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, subscriptionSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}
