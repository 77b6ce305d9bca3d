package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const runLockKey = "ml-features:reconcile:lock"

// releaseScript deletes the lock only while it is still held by token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RunLock keeps reconcile runs exclusive across server and CLI processes.
// The TTL bounds how long a crashed holder blocks new runs.
type RunLock struct {
	client lockClient
	ttl    time.Duration
}

func NewRunLock(client lockClient, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RunLock{client: client, ttl: ttl}
}

func (l *RunLock) Acquire(ctx context.Context, token string) (bool, error) {
	return l.client.SetNX(ctx, runLockKey, token, l.ttl).Result()
}

func (l *RunLock) Release(ctx context.Context, token string) error {
	return l.client.Eval(ctx, releaseScript, []string{runLockKey}, token).Err()
}
