package group

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
)

// InstanceInfo describes a peer instance learned from heartbeats.
type InstanceInfo struct {
	ID               string
	LastSeen         time.Time
	LastHeartbeatSeq uint64
}

// IsHealthy returns true if the instance has been seen recently
func (i *InstanceInfo) IsHealthy(timeout time.Duration) bool {
	return time.Since(i.LastSeen) < timeout
}

// Membership tracks the live instances of the group.
//
// All methods are safe for concurrent use; reads return copies.
type Membership struct {
	localID   string
	instances map[string]*InstanceInfo
	mu        sync.RWMutex
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewMembership creates a tracker holding only the local instance.
func NewMembership(localID string, registry *metrics.Registry) *Membership {
	m := &Membership{
		localID:   localID,
		instances: make(map[string]*InstanceInfo),
		metrics:   registry,
		now:       time.Now,
	}
	m.instances[localID] = &InstanceInfo{ID: localID, LastSeen: m.now()}
	m.updateGauge()
	return m
}

// Heartbeat records a heartbeat and reports whether the instance is new.
func (m *Membership) Heartbeat(id string, seq uint64) (joined bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.instances[id]
	if !ok {
		info = &InstanceInfo{ID: id}
		m.instances[id] = info
		m.updateGaugeLocked()
	}
	info.LastSeen = m.now()
	info.LastHeartbeatSeq = seq
	return !ok
}

// Remove drops an instance.
func (m *Membership) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.localID {
		return ErrCannotRemoveSelf
	}
	if _, ok := m.instances[id]; !ok {
		return ErrMemberNotFound
	}
	delete(m.instances, id)
	m.updateGaugeLocked()
	return nil
}

// Expire removes instances not seen within timeout and returns their ids.
func (m *Membership) Expire(timeout time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []string
	for id, info := range m.instances {
		if id != m.localID && now.Sub(info.LastSeen) >= timeout {
			expired = append(expired, id)
			delete(m.instances, id)
		}
	}
	if len(expired) > 0 {
		m.updateGaugeLocked()
	}
	slices.Sort(expired)
	return expired
}

// Get returns a copy of one instance.
func (m *Membership) Get(id string) (InstanceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.instances[id]
	if !ok {
		return InstanceInfo{}, ErrMemberNotFound
	}
	return *info, nil
}

// IDs returns the sorted ids of all known instances, including this one.
func (m *Membership) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.instances))
}

func (m *Membership) updateGauge() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.updateGaugeLocked()
}

func (m *Membership) updateGaugeLocked() {
	if m.metrics != nil {
		m.metrics.GroupMembers.Set(float64(len(m.instances)))
	}
}
