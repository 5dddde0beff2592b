package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Ensure MemoryCache implements MarkerCache
var _ MarkerCache = (*MemoryCache)(nil)

// MemoryCache is a process-local MarkerCache on ristretto. Ristretto cannot
// enumerate keys, so a side index of written keys backs DeletePrefix.
type MemoryCache struct {
	cache *ristretto.Cache
	size  int

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = 10000
	}

	config := &ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64, // Number of keys per Get buffer.
		Metrics:     false,
		// Every marker costs 1; without this ristretto adds its own per-item
		// overhead and the item budget collapses.
		IgnoreInternalCost: true,
		Cost: func(value interface{}) int64 {
			return 1
		},
	}

	cache, err := ristretto.NewCache(config)
	if err != nil {
		// A failure here means bad config; panic so it is noticed at startup.
		panic(err)
	}

	return &MemoryCache{
		cache: cache,
		size:  size,
		keys:  make(map[string]struct{}),
	}
}

func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	_, found := c.Get(ctx, key)
	return found
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	if data, ok := val.([]byte); ok {
		return data, true
	}
	return nil, false
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(key, value, ttl)
}

func (c *MemoryCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.cache.Get(key); found {
		return false, nil
	}
	if err := c.setLocked(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// setLocked writes through and waits for ristretto's buffers so the value is
// visible to the next Get.
func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if !c.cache.SetWithTTL(key, value, 1, ttl) {
		return ErrRejected
	}
	c.cache.Wait()
	c.keys[key] = struct{}{}
	if len(c.keys) > c.size*4 {
		c.pruneLocked()
	}
	return nil
}

// pruneLocked drops index entries whose values were evicted or expired.
func (c *MemoryCache) pruneLocked() {
	for k := range c.keys {
		if _, found := c.cache.Get(k); !found {
			delete(c.keys, k)
		}
	}
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Del(key)
	c.cache.Wait()
	delete(c.keys, key)
	return nil
}

func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for k := range c.keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, found := c.cache.Get(k); found {
			deleted++
		}
		c.cache.Del(k)
		delete(c.keys, k)
	}
	c.cache.Wait()
	return deleted, nil
}

func (c *MemoryCache) Health(ctx context.Context) error {
	return nil
}

func (c *MemoryCache) Close() {
	c.cache.Close()
}
