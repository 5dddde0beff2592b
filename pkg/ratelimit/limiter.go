// Package ratelimit throttles admin API callers, per process or across
// processes through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter decides whether client may make another admin call now.
type Limiter interface {
	Allow(ctx context.Context, client string) bool
}

// Ensure MemoryLimiter implements Limiter
var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter gives each client a token bucket refilled at perSecond with
// an equal burst. A client idle for longer than the idle window starts over
// with a full bucket, and at most maxClients buckets are kept.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	refill  rate.Limit
	burst   int
}

func NewMemoryLimiter(perSecond, maxClients int, idle time.Duration) *MemoryLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &MemoryLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, idle),
		refill:  rate.Limit(perSecond),
		burst:   perSecond,
	}
}

func (m *MemoryLimiter) Allow(ctx context.Context, client string) bool {
	return m.bucket(client).Allow()
}

func (m *MemoryLimiter) bucket(client string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets.Get(client); ok {
		return b
	}
	b := rate.NewLimiter(m.refill, m.burst)
	m.buckets.Add(client, b)
	return b
}
