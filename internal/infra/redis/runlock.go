package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/csword/mailtrack/internal/distlock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 5 * time.Minute

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ distlock.Lock = (*RunLock)(nil)

// RunLock is a lease held in Redis under SET NX PX. The owner token makes
// Release a no-op once the lease expired and another holder took over.
type RunLock struct {
	client *goredis.Client
	key    string
	token  string
	ttl    time.Duration
}

func NewRunLock(client *goredis.Client, name string, ttl time.Duration) (*RunLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RunLock{
		client: client,
		key:    "lock:" + name,
		token:  uuid.NewString(),
		ttl:    ttl,
	}, nil
}

func (l *RunLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RunLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
