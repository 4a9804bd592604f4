package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/csword/mailtrack/internal/ratelimit"
)

const (
	sendRateKeyPrefix = "mailtrack:sendrate:"
	sendRateWindow    = time.Second
)

// reserveScript counts sends in a fixed window that opens with the first send.
// It returns 0 when the send fits, otherwise the milliseconds left in the window.
var reserveScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter enforces transport send quotas across every scheduler replica.
type RedisRateLimiter struct {
	client *goredis.Client
	window time.Duration
}

func NewRedisRateLimiter(client *goredis.Client) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisRateLimiter{client: client, window: sendRateWindow}, nil
}

func (r *RedisRateLimiter) Reserve(ctx context.Context, q ratelimit.Quota) (time.Duration, error) {
	key := strings.ToLower(strings.TrimSpace(q.Key))
	if key == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}
	if q.PerSecond <= 0 {
		return 0, fmt.Errorf("rate limit for %q must be positive, got %d", key, q.PerSecond)
	}

	limit := int64(q.PerSecond) * int64(r.window/time.Second)
	if limit < 1 {
		limit = 1
	}

	ms, err := reserveScript.Run(ctx, r.client, []string{sendRateKeyPrefix + key}, limit, r.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate send rate for %q: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
