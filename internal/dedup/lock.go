// Package dedup guards the fingerprint index: it computes fingerprints,
// serializes lookups per fingerprint, and short-circuits duplicate media.
package dedup

import (
	"context"
	"sync"
)

// KeyedLock provides in-process mutual exclusion per string key. At most one
// holder per key; Lock blocks until the key frees up or the context ends.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewKeyedLock creates an empty keyed lock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]chan struct{})}
}

// Lock acquires the key, blocking while another holder owns it.
func (l *KeyedLock) Lock(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		release, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryLock acquires the key without blocking and reports success.
func (l *KeyedLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = make(chan struct{})
	return true
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (l *KeyedLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	release, busy := l.held[key]
	if !busy {
		return
	}
	delete(l.held, key)
	close(release)
}
