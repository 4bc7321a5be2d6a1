package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	keyPrefix    = "storefront:lock:"
	pollInterval = 20 * time.Millisecond
)

// RedisLocker holds keys with SET NX and releases them with a token-checked
// Lua script so an expired holder cannot delete a successor's lock.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	if err := validate(key, ttl); err != nil {
		return nil, false, err
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return l.unlocker(key, token), true, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Unlock, error) {
	if err := validate(key, ttl); err != nil {
		return nil, err
	}

	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		unlock, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) Unlock {
	return func(ctx context.Context) error {
		n, err := l.script.Run(ctx, l.client, []string{keyPrefix + key}, token).Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
}
