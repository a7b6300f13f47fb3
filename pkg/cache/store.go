package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/sirupsen/logrus"
)

// PreviousUserKey is the reserved cache key holding the last known
// user's campaign state, used to migrate state across logout/login.
const PreviousUserKey = "<previous_user>"

// Store persists campaign state per normalized user key.
type Store interface {
	Load(ctx context.Context, userKey string) ([]*campaign.Campaign, error)
	Save(ctx context.Context, userKey string, campaigns []*campaign.Campaign) error
}

const (
	// redisKeyPrefix namespaces all campaign cache entries.
	redisKeyPrefix = "inapp_engine:campaign_cache:"
	// redisTTL bounds how long stale per-user state is kept (90 days).
	redisTTL = 90 * 24 * time.Hour
)

// RedisStore is the redis-backed Store.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a redis-backed campaign store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(userKey string) string {
	return redisKeyPrefix + userKey
}

// Load retrieves the campaign list stored for the user key. A missing
// key yields an empty list, not an error.
func (s *RedisStore) Load(ctx context.Context, userKey string) ([]*campaign.Campaign, error) {
	data, err := s.client.Get(ctx, redisKey(userKey)).Result()
	if err == redis.Nil {
		logrus.Debugf("no persisted campaign state for key %q", userKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign state: %w", err)
	}

	var campaigns []*campaign.Campaign
	if err := json.Unmarshal([]byte(data), &campaigns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign state: %w", err)
	}
	return campaigns, nil
}

// Save stores the campaign list under the user key.
func (s *RedisStore) Save(ctx context.Context, userKey string, campaigns []*campaign.Campaign) error {
	data, err := json.Marshal(campaigns)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign state: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(userKey), data, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to save campaign state: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and embedded use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, userKey string) ([]*campaign.Campaign, error) {
	s.mu.Lock()
	raw, ok := s.data[userKey]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var campaigns []*campaign.Campaign
	if err := json.Unmarshal(raw, &campaigns); err != nil {
		return nil, err
	}
	return campaigns, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, userKey string, campaigns []*campaign.Campaign) error {
	raw, err := json.Marshal(campaigns)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[userKey] = raw
	s.mu.Unlock()
	return nil
}
