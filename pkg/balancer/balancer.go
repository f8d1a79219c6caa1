// Package balancer selects which active member serves the next read.
//
// A Balancer owns the active set. Add and Remove are only called by the
// cluster while it holds the global write lock; Next, All and Contains may be
// called concurrently from any goroutine.
package balancer

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// Kind names a selection policy.
type Kind string

const (
	// Simple always picks the highest weighted member.
	Simple Kind = "simple"
	// RoundRobin cycles through members, each appearing weight times per cycle.
	RoundRobin Kind = "round-robin"
	// Random picks a member with probability proportional to its weight.
	Random Kind = "random"
)

// Kinds lists every supported policy.
var Kinds = []Kind{Simple, RoundRobin, Random}

// ErrUnknownBalancer is returned by New for unsupported kinds.
var ErrUnknownBalancer = errors.New("unknown balancer")

// Balancer is the active set plus a read selection policy.
type Balancer interface {
	// Next returns the member that should serve the next read.
	// ok is false when the active set is empty.
	Next() (m *member.Member, ok bool)
	// All returns a snapshot of the active set in member.Compare order.
	All() []*member.Member
	// Add returns false if m is already active.
	Add(m *member.Member) bool
	// Remove returns false if m was not active.
	Remove(m *member.Member) bool
	Contains(m *member.Member) bool
	Clear()
}

// Option configures a balancer.
type Option func(*options)

type options struct {
	source rand.Source
}

// WithRandSource fixes the random source, making Random selection
// reproducible for a given active set.
func WithRandSource(src rand.Source) Option {
	return func(o *options) { o.source = src }
}

// New creates a balancer of the given kind.
func New(kind Kind, opts ...Option) (Balancer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	switch kind {
	case Simple, "":
		return &simpleBalancer{}, nil
	case RoundRobin:
		return &roundRobinBalancer{}, nil
	case Random:
		src := o.source
		if src == nil {
			src = rand.NewSource(rand.Int63())
		}
		return &randomBalancer{rnd: rand.New(src)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBalancer, kind)
	}
}

// memberSet is the shared active set used by every policy.
type memberSet struct {
	mu      sync.RWMutex
	members []*member.Member // sorted by member.Compare
}

func (s *memberSet) All() []*member.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members)
}

func (s *memberSet) Contains(m *member.Member) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(m) >= 0
}

func (s *memberSet) indexLocked(m *member.Member) int {
	for i, existing := range s.members {
		if existing.ID == m.ID {
			return i
		}
	}
	return -1
}

// add inserts m and calls changed with the lock held.
func (s *memberSet) add(m *member.Member, changed func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(m) >= 0 {
		return false
	}
	i, _ := slices.BinarySearchFunc(s.members, m, member.Compare)
	s.members = slices.Insert(s.members, i, m)
	if changed != nil {
		changed()
	}
	return true
}

func (s *memberSet) remove(m *member.Member, changed func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(m)
	if i < 0 {
		return false
	}
	s.members = slices.Delete(s.members, i, i+1)
	if changed != nil {
		changed()
	}
	return true
}

func (s *memberSet) clear(changed func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = nil
	if changed != nil {
		changed()
	}
}

// fallbackLocked handles the zero-weight rule: a member with weight 0 is only
// chosen when no member carries a positive weight.
func (s *memberSet) fallbackLocked() (*member.Member, bool) {
	if len(s.members) == 0 {
		return nil, false
	}
	return s.members[0], true
}

type simpleBalancer struct {
	memberSet
}

func (b *simpleBalancer) Next() (*member.Member, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	// Sorted by descending weight, so the head is the answer either way.
	return b.fallbackLocked()
}

func (b *simpleBalancer) Add(m *member.Member) bool    { return b.add(m, nil) }
func (b *simpleBalancer) Remove(m *member.Member) bool { return b.remove(m, nil) }
func (b *simpleBalancer) Clear()                       { b.clear(nil) }

type roundRobinBalancer struct {
	memberSet
	cycle []*member.Member // guarded by memberSet.mu
	next  int              // guarded by memberSet.mu
}

// rebuildLocked expands the active set into one weighted cycle.
func (b *roundRobinBalancer) rebuildLocked() {
	b.cycle = b.cycle[:0]
	b.next = 0
	for _, m := range b.members {
		for i := 0; i < m.Weight; i++ {
			b.cycle = append(b.cycle, m)
		}
	}
}

func (b *roundRobinBalancer) Next() (*member.Member, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.cycle) == 0 {
		return b.fallbackLocked()
	}
	m := b.cycle[b.next]
	b.next = (b.next + 1) % len(b.cycle)
	return m, true
}

func (b *roundRobinBalancer) Add(m *member.Member) bool    { return b.add(m, b.rebuildLocked) }
func (b *roundRobinBalancer) Remove(m *member.Member) bool { return b.remove(m, b.rebuildLocked) }
func (b *roundRobinBalancer) Clear()                       { b.clear(b.rebuildLocked) }

type randomBalancer struct {
	memberSet
	rnd   *rand.Rand // guarded by memberSet.mu
	total int        // sum of weights, guarded by memberSet.mu
}

func (b *randomBalancer) recountLocked() {
	b.total = 0
	for _, m := range b.members {
		b.total += m.Weight
	}
}

func (b *randomBalancer) Next() (*member.Member, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total == 0 {
		return b.fallbackLocked()
	}
	n := b.rnd.Intn(b.total)
	for _, m := range b.members {
		if n < m.Weight {
			return m, true
		}
		n -= m.Weight
	}
	return b.fallbackLocked()
}

func (b *randomBalancer) Add(m *member.Member) bool    { return b.add(m, b.recountLocked) }
func (b *randomBalancer) Remove(m *member.Member) bool { return b.remove(m, b.recountLocked) }
func (b *randomBalancer) Clear()                       { b.clear(b.recountLocked) }
