// Package lock provides named read/write locks. The empty resource name is the
// global resource: its write lock excludes every lock on every resource, while
// a named write lock excludes only that resource.
package lock

import (
	"context"
	"time"
)

// Global is the global resource.
const Global = ""

// Lock is one lock handle. A handle is acquired and released by one caller.
type Lock interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) error
	// TryLock acquires the lock only if it is immediately available.
	TryLock() bool
	// TryLockTimeout waits at most d for the lock.
	TryLockTimeout(d time.Duration) bool
	Unlock()
}

// Manager hands out locks.
type Manager interface {
	ReadLock(resource string) Lock
	WriteLock(resource string) Lock
	Start() error
	Stop() error
}

func tryLockTimeout(l Lock, d time.Duration) bool {
	if d <= 0 {
		return l.TryLock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.Lock(ctx) == nil
}
