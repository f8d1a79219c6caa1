package cluster

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/group"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/state"
	"github.com/dd0wney/cluso-dbcluster/pkg/synchronization"
)

// instance builds a cluster for one middleware instance on the network.
func (f *fixture) instance(t *testing.T, network *group.LocalNetwork, id string) *Cluster {
	t.Helper()
	node, err := network.Join(id)
	require.NoError(t, err)

	locks, err := lock.NewDistributedManager(lock.DistributedConfig{
		Network:     node,
		VoteTimeout: time.Second,
		Metrics:     metrics.NewRegistry(),
	})
	require.NoError(t, err)

	local, err := state.NewLocalManager(state.LocalConfig{
		ClusterID: "test",
		Path:      filepath.Join(t.TempDir(), "state.yaml"),
		Members:   member.IDs(f.members),
	})
	require.NoError(t, err)
	states, err := state.NewDistributedManager(state.DistributedConfig{Local: local, Network: node, Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, locks.Start())
	require.NoError(t, states.Start())

	cfg := f.config(t)
	cfg.LockManager = locks
	cfg.StateManager = states
	cfg.Metrics = metrics.NewRegistry()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestPeersConvergeOnActiveSet(t *testing.T) {
	// Each instance keeps its own member objects.
	fa := newFixture(t, "db1", "db2")
	fb := &fixture{connector: fa.connector, dbs: fa.dbs, statePath: fa.statePath, metrics: fa.metrics}
	for _, m := range fa.members {
		clone, err := member.New(m.ID, m.Source, m.Weight)
		require.NoError(t, err)
		fb.members = append(fb.members, clone)
	}

	network := group.NewLocalNetwork(nil)
	a := fa.instance(t, network, "a")
	b := fb.instance(t, network, "b")

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	// b adopted the coordinator's recorded state.
	assert.Equal(t, []string{"db1", "db2"}, member.IDs(b.ActiveMembers()))

	require.NoError(t, a.Deactivate(ctx, "db2"))
	assert.Equal(t, []string{"db1"}, member.IDs(a.ActiveMembers()))
	assert.Equal(t, []string{"db1"}, member.IDs(b.ActiveMembers()))

	require.NoError(t, b.Activate(ctx, "db2", synchronization.PassiveID))
	assert.Equal(t, []string{"db1", "db2"}, member.IDs(a.ActiveMembers()))
	assert.Equal(t, []string{"db1", "db2"}, member.IDs(b.ActiveMembers()))

	// The global lock spans both instances.
	held := a.LockManager().WriteLock(lock.Global)
	require.NoError(t, held.Lock(ctx))
	assert.False(t, b.LockManager().WriteLock(lock.Global).TryLock())
	held.Unlock()
}
