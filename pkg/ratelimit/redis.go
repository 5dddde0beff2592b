package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ensure RedisLimiter implements Limiter
var _ Limiter = (*RedisLimiter)(nil)

// slidingWindow trims the caller's sorted set to the window, then admits
// the request if fewer than limit entries remain.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window_start = now - tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, now)
	redis.call('EXPIRE', key, tonumber(ARGV[4]))
	return 1
end
return 0
`)

// RedisLimiter shares one sliding-window budget per key across every
// process pointed at the same Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, limit int) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: time.Second,
		prefix: "wm:ratelimit:",
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	// Microsecond scores; two requests in the same microsecond count once.
	now := time.Now().UnixMicro()
	expireSeconds := int(r.window.Seconds()) + 1

	val, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		r.limit, now, r.window.Microseconds(), expireSeconds).Int()
	if err != nil {
		// Fail open: an unreachable Redis must not lock operators out.
		slog.Debug("[RATELIMIT] Redis check failed, allowing", "key", key, "error", err)
		return true
	}
	return val == 1
}
