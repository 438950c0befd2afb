package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by reaper instances.
type RedisLocker struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

// NewRedisLocker returns a locker on key.  A nil client yields nil so the
// scheduler runs unguarded.
func NewRedisLocker(rdb *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if rdb == nil {
		return nil
	}
	return &RedisLocker{Client: rdb, Key: key, TTL: ttl}
}

// Acquire tries to take the lock once.
func (l *RedisLocker) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.Client, []string{l.Key}, token).Err()
	}
	return release, true, nil
}
