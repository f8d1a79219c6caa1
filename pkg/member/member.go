// Package member describes the backend databases that make up a cluster.
package member

import (
	"cmp"
	"fmt"
	"sync/atomic"

	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

// Source describes how to reach a member: a registered driver name and a
// driver specific connection string.
type Source struct {
	Driver string `yaml:"driver" validate:"required"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// Credentials are handed verbatim to the backend when connecting.
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Member is one physical backend database participating in the cluster.
//
// Identity and connection settings are fixed at construction. The active and
// dirty flags change during the member's lifetime and are safe for concurrent
// use.
type Member struct {
	ID          string `validate:"required,identifier"`
	Source      Source `validate:"required"`
	Weight      int    `validate:"gte=0"`
	Local       bool
	Credentials Credentials

	active atomic.Bool
	dirty  atomic.Bool
}

// New creates a validated member.
func New(id string, source Source, weight int) (*Member, error) {
	m := &Member{ID: id, Source: source, Weight: weight}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the identifier, source and weight.
func (m *Member) Validate() error {
	if err := validation.Struct(m); err != nil {
		return fmt.Errorf("member %q: %w", m.ID, err)
	}
	return nil
}

// IsActive reports whether the member is in the active set.
func (m *Member) IsActive() bool {
	return m.active.Load()
}

// SetActive records active set membership. Only the cluster calls this.
func (m *Member) SetActive(active bool) {
	m.active.Store(active)
}

// IsDirty reports whether metadata changed since it was last exported.
func (m *Member) IsDirty() bool {
	return m.dirty.Load()
}

// MarkDirty flags cached metadata for this member as stale.
func (m *Member) MarkDirty() {
	m.dirty.Store(true)
}

// Clean clears the dirty flag and reports whether it was set.
func (m *Member) Clean() bool {
	return m.dirty.Swap(false)
}

func (m *Member) String() string {
	return m.ID
}

// Compare orders members by descending weight, then ascending id. Balancers
// rely on this order for deterministic selection.
func Compare(a, b *Member) int {
	if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// IDs returns the identifiers of members in order.
func IDs(members []*Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}
