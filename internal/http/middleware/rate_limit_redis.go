package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window on the
// first hit. It returns the count and the window's remaining milliseconds.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisFixedWindowLimiter shares counters across every instance that points
// at the same Redis.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	if l.client == nil {
		return Decision{}, errors.New("redis rate limiter: nil client")
	}
	policy = normalizePolicy(policy)
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limiter: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limiter: unexpected reply %v", res)
	}
	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	resetAt := l.now().Add(ttl)
	if count > int64(policy.Limit) {
		return Decision{Allowed: false, RetryAfter: ttl, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - int(count), ResetAt: resetAt}, nil
}
