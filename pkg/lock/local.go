package lock

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
)

// LocalManager is an in-process Manager. Named locks are taken as a read lock
// on the global resource followed by the named lock itself.
type LocalManager struct {
	global  *rwLock
	metrics *metrics.Registry

	mu    sync.Mutex
	named map[string]*rwLock
}

// NewLocalManager creates a LocalManager.
func NewLocalManager(registry *metrics.Registry) *LocalManager {
	return &LocalManager{
		global:  newRWLock(),
		metrics: metrics.OrDefault(registry),
		named:   make(map[string]*rwLock),
	}
}

func (m *LocalManager) Start() error { return nil }
func (m *LocalManager) Stop() error  { return nil }

func (m *LocalManager) ReadLock(resource string) Lock {
	return &localLock{manager: m, resource: resource}
}

func (m *LocalManager) WriteLock(resource string) Lock {
	return &localLock{manager: m, resource: resource, write: true}
}

func (m *LocalManager) resourceLock(resource string) *rwLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.named[resource]
	if !ok {
		l = newRWLock()
		m.named[resource] = l
	}
	return l
}

type localLock struct {
	manager  *LocalManager
	resource string
	write    bool
}

func (l *localLock) Lock(ctx context.Context) error {
	start := time.Now()
	m := l.manager
	if l.resource == Global {
		if err := m.global.acquire(ctx, l.write); err != nil {
			return err
		}
	} else {
		if err := m.global.acquire(ctx, false); err != nil {
			return err
		}
		if err := m.resourceLock(l.resource).acquire(ctx, l.write); err != nil {
			m.global.release(false)
			return err
		}
	}
	m.metrics.RecordLockWait(l.write, time.Since(start))
	return nil
}

func (l *localLock) TryLock() bool {
	m := l.manager
	if l.resource == Global {
		return m.global.tryAcquire(l.write)
	}
	if !m.global.tryAcquire(false) {
		return false
	}
	if !m.resourceLock(l.resource).tryAcquire(l.write) {
		m.global.release(false)
		return false
	}
	return true
}

func (l *localLock) TryLockTimeout(d time.Duration) bool {
	return tryLockTimeout(l, d)
}

func (l *localLock) Unlock() {
	m := l.manager
	if l.resource == Global {
		m.global.release(l.write)
		return
	}
	m.resourceLock(l.resource).release(l.write)
	m.global.release(false)
}

var _ Manager = (*LocalManager)(nil)
