package cache

import (
	"context"
	"time"
)

// Ensure TieredCache implements MarkerCache
var _ MarkerCache = (*TieredCache)(nil)

// TieredCache reads through a process-local L1 to a shared L2. L2 is the
// source of truth for SetNX and deletes; L1 entries are capped at L1TTL so a
// delete issued by another process is observed within that window.
type TieredCache struct {
	L1    MarkerCache // Memory
	L2    MarkerCache // Redis
	L1TTL time.Duration
}

func NewTieredCache(l1, l2 MarkerCache, l1TTL time.Duration) *TieredCache {
	return &TieredCache{
		L1:    l1,
		L2:    l2,
		L1TTL: l1TTL,
	}
}

func (c *TieredCache) l1TTL(ttl time.Duration) time.Duration {
	if c.L1TTL > 0 && (ttl == 0 || ttl > c.L1TTL) {
		return c.L1TTL
	}
	return ttl
}

func (c *TieredCache) Has(ctx context.Context, key string) bool {
	_, found := c.Get(ctx, key)
	return found
}

func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	// Try L1
	if val, found := c.L1.Get(ctx, key); found {
		return val, true
	}

	// Try L2
	if c.L2 != nil {
		if val, found := c.L2.Get(ctx, key); found {
			_ = c.L1.Set(ctx, key, val, c.l1TTL(0))
			return val, true
		}
	}

	return nil, false
}

func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = c.L1.Set(ctx, key, value, c.l1TTL(ttl))
	if c.L2 != nil {
		return c.L2.Set(ctx, key, value, ttl)
	}
	return nil
}

func (c *TieredCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c.L2 == nil {
		return c.L1.SetNX(ctx, key, value, ttl)
	}
	ok, err := c.L2.SetNX(ctx, key, value, ttl)
	if err != nil || !ok {
		return ok, err
	}
	_ = c.L1.Set(ctx, key, value, c.l1TTL(ttl))
	return true, nil
}

func (c *TieredCache) Delete(ctx context.Context, key string) error {
	_ = c.L1.Delete(ctx, key)
	if c.L2 != nil {
		return c.L2.Delete(ctx, key)
	}
	return nil
}

func (c *TieredCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := c.L1.DeletePrefix(ctx, prefix)
	if c.L2 == nil {
		return n, err
	}
	return c.L2.DeletePrefix(ctx, prefix)
}

// Health reports the state of the shared tier; L1 is process memory.
func (c *TieredCache) Health(ctx context.Context) error {
	if hc, ok := c.L2.(interface{ Health(context.Context) error }); ok {
		return hc.Health(ctx)
	}
	return nil
}
