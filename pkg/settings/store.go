package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store is the key-value settings provider.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Lookup returns the stored value for key, or def when it is absent.
func Lookup(ctx context.Context, s Store, key, def string) (string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// RedisStore keeps every setting as a field of one Redis hash.
type RedisStore struct {
	client redis.UniversalClient
	hash   string
}

func NewRedisStore(client redis.UniversalClient, hash string) *RedisStore {
	if hash == "" {
		hash = "wm:settings"
	}
	return &RedisStore{client: client, hash: hash}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.HSet(ctx, r.hash, key, value).Err()
}
