package wager

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker serializes work on a named record. The returned release function
// must be called exactly once; extra calls are ignored.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Guard is an in-process Locker with one mutex per key and an optional
// acquisition bound. Waiters for the same key are served in arrival order.
type Guard struct {
	mutex   sync.Mutex
	entries map[string]*guardEntry
	timeout time.Duration
}

type guardEntry struct {
	token chan struct{}
	refs  int
}

// NewGuard returns a Guard. A non-positive timeout waits until ctx is done.
func NewGuard(timeout time.Duration) *Guard {
	return &Guard{entries: make(map[string]*guardEntry), timeout: timeout}
}

// Lock blocks until key is free. It fails with ErrLockTimeout when the bound
// elapses or ctx is cancelled first.
func (guard *Guard) Lock(ctx context.Context, key string) (func(), error) {
	entry := guard.retain(key)
	waitCtx := ctx
	if guard.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, guard.timeout)
		defer cancel()
	}
	select {
	case entry.token <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.token
				guard.releaseEntry(key, entry)
			})
		}, nil
	case <-waitCtx.Done():
		guard.releaseEntry(key, entry)
		return nil, WrapError(errorOperationGuard, "lock", "timeout", fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, waitCtx.Err()))
	}
}

func (guard *Guard) retain(key string) *guardEntry {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	entry, ok := guard.entries[key]
	if !ok {
		entry = &guardEntry{token: make(chan struct{}, 1)}
		guard.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (guard *Guard) releaseEntry(key string, entry *guardEntry) {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(guard.entries, key)
	}
}

// WithLock runs fn while holding key on locker.
func WithLock(ctx context.Context, locker Locker, key string, fn func() error) error {
	release, err := locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func accountLockKey(userID UserID) string {
	return lockKeyAccountPrefix + userID.String()
}
