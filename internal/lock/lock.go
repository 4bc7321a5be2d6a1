package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLockTimeout = errors.New("lock_timeout")
	ErrLockNotHeld = errors.New("lock_not_held")
	ErrInvalidLock = errors.New("invalid_lock_request")
)

// Unlock releases a held lock. It is safe to call once.
type Unlock func(ctx context.Context) error

// Locker serializes work on a key across goroutines, and across replicas
// when backed by Redis.
type Locker interface {
	// Acquire blocks until the key is held, ctx is done or wait elapses.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Unlock, error)
	// TryAcquire returns immediately; ok is false when another holder owns the key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (unlock Unlock, ok bool, err error)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidLock
	}
	if ttl <= 0 {
		return ErrInvalidLock
	}
	return nil
}
