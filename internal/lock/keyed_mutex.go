package lock

import (
	"context"
	"sync"
	"time"
)

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is the in-process Locker used when Redis is not configured.
// Lock ttl is ignored; the holder keeps the key until it unlocks.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Unlock, error) {
	if err := validate(key, ttl); err != nil {
		return nil, err
	}
	entry := m.ref(key)

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.sem <- struct{}{}:
		return m.unlocker(key, entry), nil
	case <-ctx.Done():
		m.unref(key, entry)
		return nil, ctx.Err()
	case <-timeout:
		m.unref(key, entry)
		return nil, ErrLockTimeout
	}
}

func (m *KeyedMutex) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	if err := validate(key, ttl); err != nil {
		return nil, false, err
	}
	entry := m.ref(key)
	select {
	case entry.sem <- struct{}{}:
		return m.unlocker(key, entry), true, nil
	default:
		m.unref(key, entry)
		return nil, false, nil
	}
}

func (m *KeyedMutex) ref(key string) *keyedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (m *KeyedMutex) unref(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
}

func (m *KeyedMutex) unlocker(key string, entry *keyedEntry) Unlock {
	var once sync.Once
	return func(context.Context) error {
		released := false
		once.Do(func() {
			<-entry.sem
			m.unref(key, entry)
			released = true
		})
		if !released {
			return ErrLockNotHeld
		}
		return nil
	}
}

func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
