package lock

import (
	"context"
	"sync"
)

// rwLock is a reader/writer lock whose acquisition can be abandoned.
// Waiting writers block new readers.
type rwLock struct {
	mu             sync.Mutex
	readers        int
	writer         bool
	waitingWriters int
	changed        chan struct{}
}

func newRWLock() *rwLock {
	return &rwLock{changed: make(chan struct{})}
}

func (l *rwLock) available(write bool) bool {
	if write {
		return !l.writer && l.readers == 0
	}
	return !l.writer && l.waitingWriters == 0
}

func (l *rwLock) grantLocked(write bool) {
	if write {
		l.writer = true
	} else {
		l.readers++
	}
}

// signalLocked wakes every waiter.
func (l *rwLock) signalLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *rwLock) acquire(ctx context.Context, write bool) error {
	l.mu.Lock()
	if l.available(write) {
		l.grantLocked(write)
		l.mu.Unlock()
		return nil
	}
	if write {
		l.waitingWriters++
	}
	for {
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			if write {
				l.mu.Lock()
				l.waitingWriters--
				l.signalLocked()
				l.mu.Unlock()
			}
			return ctx.Err()
		}

		l.mu.Lock()
		if write {
			if l.available(true) {
				l.waitingWriters--
				l.grantLocked(true)
				l.mu.Unlock()
				return nil
			}
		} else if l.available(false) {
			l.grantLocked(false)
			l.mu.Unlock()
			return nil
		}
	}
}

func (l *rwLock) tryAcquire(write bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.available(write) {
		return false
	}
	l.grantLocked(write)
	return true
}

func (l *rwLock) release(write bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if write {
		if !l.writer {
			panic("lock: release of unheld write lock")
		}
		l.writer = false
	} else {
		if l.readers == 0 {
			panic("lock: release of unheld read lock")
		}
		l.readers--
	}
	l.signalLocked()
}
