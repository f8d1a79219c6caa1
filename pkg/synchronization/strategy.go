// Package synchronization reconciles a stale member against a live one
// before it rejoins the active set.
package synchronization

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// Strategy ids.
const (
	PassiveID     = "passive"
	FullID        = "full"
	DiffID        = "diff"
	DumpRestoreID = "dump-restore"
)

// Strategy brings Context.Target in line with Context.Source.
// Implementations return on the first error; the caller leaves the target
// inactive.
type Strategy interface {
	ID() string
	Synchronize(ctx context.Context, sc *Context) error
}

// Strategies is a registry of strategies keyed by id.
type Strategies map[string]Strategy

// NewStrategies registers the given strategies.
func NewStrategies(strategies ...Strategy) Strategies {
	s := make(Strategies, len(strategies))
	for _, strategy := range strategies {
		s[strategy.ID()] = strategy
	}
	return s
}

// DefaultStrategies returns passive, full and diff with default settings.
func DefaultStrategies() Strategies {
	full, _ := NewFull(FullConfig{})
	diff, _ := NewDifferential(DiffConfig{})
	return NewStrategies(Passive{}, full, diff)
}

// Get looks a strategy up by id.
func (s Strategies) Get(id string) (Strategy, error) {
	strategy, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return strategy, nil
}

// IDs returns the registered ids in sorted order.
func (s Strategies) IDs() []string {
	return slices.Sorted(maps.Keys(s))
}

// Passive assumes the target is already in sync.
type Passive struct{}

func (Passive) ID() string { return PassiveID }

func (Passive) Synchronize(context.Context, *Context) error { return nil }
