package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Ensure LRUCache implements MarkerCache
var _ MarkerCache = (*LRUCache)(nil)

type lruEntry struct {
	value   []byte
	expires time.Time // zero means no expiry beyond the LRU's own
}

// LRUCache is a process-local MarkerCache that keeps every write until it
// expires or is pushed out as the least recently used of size entries.
// Records that operators poll, like batches, live here rather than in the
// admission-filtered MemoryCache.
type LRUCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, lruEntry]
	now func() time.Time
}

// NewLRUCache holds up to size entries, none longer than maxTTL.
func NewLRUCache(size int, maxTTL time.Duration) *LRUCache {
	if size <= 0 {
		size = 1000
	}
	return &LRUCache{
		lru: expirable.NewLRU[string, lruEntry](size, nil, maxTTL),
		now: time.Now,
	}
}

func (c *LRUCache) Has(ctx context.Context, key string) bool {
	_, found := c.Get(ctx, key)
	return found
}

func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.liveLocked(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(key, value, ttl)
	return nil
}

func (c *LRUCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.liveLocked(key); ok {
		return false, nil
	}
	c.addLocked(key, value, ttl)
	return true, nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

func (c *LRUCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for _, k := range c.lru.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := c.liveLocked(k); ok {
			deleted++
		}
		c.lru.Remove(k)
	}
	return deleted, nil
}

func (c *LRUCache) Health(ctx context.Context) error {
	return nil
}

func (c *LRUCache) addLocked(key string, value []byte, ttl time.Duration) {
	e := lruEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
}

// liveLocked drops and misses entries whose own ttl has passed.
func (c *LRUCache) liveLocked(key string) (lruEntry, bool) {
	e, ok := c.lru.Peek(key)
	if !ok {
		return lruEntry{}, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return lruEntry{}, false
	}
	return e, true
}
