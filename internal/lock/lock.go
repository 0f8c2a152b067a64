// Package lock serializes operations on one (pool, asset) pair or one oracle record.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrEmptyKey is returned when WithLock is called without a key.
var ErrEmptyKey = errors.New("lock key cannot be empty")

// Locker runs fn while holding the lock named key. Different keys never block each other.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Key builds the lock key of a (pool, asset) pair.
func Key(pool, asset string) string {
	return "lock:rebalancing:" + pool + ":" + asset
}

// OracleKey builds the lock key of the oracle record of asset.
func OracleKey(asset string) string {
	return "lock:oracle:" + asset
}

// KeyedMutex is the in-process Locker: one channel semaphore per key.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: map[string]chan struct{}{}}
}

func (k *KeyedMutex) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

// WithLock waits for the key or for ctx to be done, whichever comes first.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if key == "" {
		return ErrEmptyKey
	}
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()
	return fn(ctx)
}
