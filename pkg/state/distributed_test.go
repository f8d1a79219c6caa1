package state

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/group"
)

var members = []string{"db1", "db2", "db3"}

type peer struct {
	local   *LocalManager
	manager *DistributedManager
	node    *group.LocalNode

	mu     sync.Mutex
	events []Event
}

func (p *peer) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func newPeer(t *testing.T, network *group.LocalNetwork, id string) *peer {
	t.Helper()
	node, err := network.Join(id)
	require.NoError(t, err)

	p := &peer{node: node}
	p.local = newLocal(t, filepath.Join(t.TempDir(), "state.yaml"), members...)
	p.manager, err = NewDistributedManager(DistributedConfig{
		Local:   p.local,
		Network: node,
		Timeout: time.Second,
		Listener: func(e Event) {
			p.mu.Lock()
			p.events = append(p.events, e)
			p.mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.manager.Start())
	t.Cleanup(func() { p.manager.Stop() })
	return p
}

func TestDistributedConfigValidate(t *testing.T) {
	_, err := NewDistributedManager(DistributedConfig{})
	assert.Error(t, err)
}

func TestDistributedAdoptsCoordinatorSnapshot(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	b := newPeer(t, network, "b")

	require.NoError(t, a.local.Replace([]string{"db1", "db3"}))

	ids, ok, err := b.manager.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"db1", "db3"}, ids)

	// Adopted state is recorded locally.
	ids, ok, err = b.local.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"db1", "db3"}, ids)
}

func TestDistributedAdoptsEmptySnapshot(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	b := newPeer(t, network, "b")

	require.NoError(t, a.local.Replace([]string{"db1"}))
	require.NoError(t, a.local.Replace(nil))

	ids, ok, err := b.manager.InitialState()
	require.NoError(t, err)
	assert.True(t, ok, "an emptied active set is still a recorded state")
	assert.Empty(t, ids)

	_, ok, err = b.local.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedCoordinatorStaysUnresolved(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	b := newPeer(t, network, "b")
	require.NoError(t, b.local.Replace([]string{"db2"}))

	// a is the coordinator and has nothing to adopt from.
	_, ok, err := a.manager.InitialState()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedLocalRecordWins(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	b := newPeer(t, network, "b")
	require.NoError(t, a.local.Replace([]string{"db1"}))
	require.NoError(t, b.local.Replace([]string{"db2"}))

	ids, ok, err := b.manager.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"db2"}, ids)
}

func TestDistributedNoticesConverge(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	b := newPeer(t, network, "b")
	c := newPeer(t, network, "c")

	require.NoError(t, a.manager.MemberAdded("db1"))
	require.NoError(t, b.manager.MemberAdded("db2"))
	require.NoError(t, c.manager.MemberRemoved("db1"))

	for _, p := range []*peer{a, b, c} {
		ids, ok, err := p.local.InitialState()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"db2"}, ids)
	}

	events := b.Events()
	require.Len(t, events, 3)
	assert.Equal(t, Event{MemberID: "db1", Added: true, Origin: "a"}, events[0])
	assert.Equal(t, Event{MemberID: "db2", Added: true, Origin: "b"}, events[1])
	assert.Equal(t, Event{MemberID: "db1", Added: false, Origin: "c"}, events[2])
}

func TestDistributedIgnoresStaleNotice(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	b := newPeer(t, network, "b")

	base := time.Unix(1000, 0)
	a.manager.now = func() time.Time { return base.Add(time.Second) }
	b.manager.now = func() time.Time { return base }

	require.NoError(t, a.manager.MemberAdded("db1"))
	// b's clock is behind, so its removal is older than a's addition.
	require.NoError(t, b.manager.MemberRemoved("db1"))

	ids, ok, err := a.local.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"db1"}, ids)
}

func TestDistributedStopped(t *testing.T) {
	network := group.NewLocalNetwork(nil)
	a := newPeer(t, network, "a")
	require.NoError(t, a.manager.Stop())
	assert.ErrorIs(t, a.manager.MemberAdded("db1"), ErrStopped)
}
