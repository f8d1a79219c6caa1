// Package state records which members are active so a restarted instance can
// resume with the same active set.
package state

import (
	"errors"
	"slices"
	"sync"
)

// ErrStopped is returned by a manager that has been stopped.
var ErrStopped = errors.New("state manager stopped")

// Manager persists the active member set.
type Manager interface {
	// InitialState returns the recorded active member ids. ok is false when
	// nothing usable is recorded.
	InitialState() (ids []string, ok bool, err error)
	MemberAdded(id string) error
	MemberRemoved(id string) error
	// Subscribe registers a listener for changes.
	Subscribe(l Listener)
	Start() error
	Stop() error
}

// Event describes one change to the recorded set.
type Event struct {
	MemberID string
	Added    bool
	// Origin is the instance that made the change.
	Origin string
}

// Listener observes changes, local and remote.
type Listener func(Event)

type listeners struct {
	mu  sync.RWMutex
	fns []Listener
}

func (l *listeners) add(fn Listener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

func (l *listeners) notify(e Event) {
	l.mu.RLock()
	fns := slices.Clone(l.fns)
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}
