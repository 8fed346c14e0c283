/*
Package lock provides per-key mutual exclusion.

PURPOSE:
  The sanction engine serializes Evaluate and Reverse per event. Within one
  process a KeyedMutex is enough; when several processes share one database
  (API server plus a cron-driven CLI, for example) the RedisLocker gives the
  same guarantee across processes.

IMPLEMENTATIONS:
  KeyedMutex:  In-process, one channel-semaphore per active key
  RedisLocker: SET NX PX with a random token, compare-and-delete release

USAGE:
  locker := lock.NewKeyedMutex()
  unlock, err := locker.Lock(ctx, "event:ev-1")
  if err != nil {
      return err
  }
  defer unlock()
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTimeout is returned when the context ends before the lock is acquired.
var ErrTimeout = errors.New("timed out acquiring lock")

// Unlock releases a held lock. Safe to call once.
type Unlock func()

// Locker acquires exclusive locks by key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// =============================================================================
// KEYED MUTEX - In-process
// =============================================================================

type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Held returns the number of keys currently tracked (held or awaited).
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
