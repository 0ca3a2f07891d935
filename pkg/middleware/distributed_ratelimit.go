package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindowScript denies without incrementing once the counter reaches the
// limit and sets the window expiry on the first hit. It returns
// {allowed, count, pttl}.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, current, ttl}
`)

// DistributedFixedWindowLimiter implements Limiter on Redis so limits are
// shared across instances
type DistributedFixedWindowLimiter struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewDistributedFixedWindowLimiter creates a new Redis-backed limiter
func NewDistributedFixedWindowLimiter(redisClient *redis.Client, prefix string) *DistributedFixedWindowLimiter {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedFixedWindowLimiter{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow implements Limiter. On Redis errors the returned decision allows the
// request and err is non-nil.
func (l *DistributedFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	now := l.now()

	res, err := fixedWindowScript.Run(ctx, l.redis, []string{redisKey}, limit, window.Milliseconds()).Result()
	if err != nil {
		return Decision{Allowed: true, ResetAt: now.Add(window)}, fmt.Errorf("redis error: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{Allowed: true, ResetAt: now.Add(window)}, fmt.Errorf("unexpected limiter reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	ttl, _ := vals[2].(int64)
	if ttl < 0 {
		ttl = window.Milliseconds()
	}

	return Decision{
		Allowed: allowed == 1,
		Count:   int(count),
		ResetAt: now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Reset clears the window for a key
func (l *DistributedFixedWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}
