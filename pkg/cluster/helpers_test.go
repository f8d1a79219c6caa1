package cluster

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend/memdb"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
	"github.com/dd0wney/cluso-dbcluster/pkg/state"
)

func accountsTable() schema.Table {
	return schema.Table{
		Name: "accounts",
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "balance", Type: "integer", Nullable: true},
		},
		PrimaryKey: &schema.UniqueConstraint{Name: "accounts_pk", Table: "accounts", Columns: []string{"id"}},
	}
}

func ordersTable() schema.Table {
	return schema.Table{
		Name: "orders",
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "account_id", Type: "integer"},
		},
		PrimaryKey: &schema.UniqueConstraint{Name: "orders_pk", Table: "orders", Columns: []string{"id"}},
	}
}

// fixture is a set of memdb members and the collaborators a cluster needs.
type fixture struct {
	connector *memdb.Connector
	members   []*member.Member
	dbs       map[string]*memdb.DB
	statePath string
	metrics   *metrics.Registry
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		connector: memdb.NewConnector(),
		dbs:       make(map[string]*memdb.DB),
		statePath: filepath.Join(t.TempDir(), "state.yaml"),
		metrics:   metrics.NewRegistry(),
	}
	for _, id := range ids {
		db := memdb.New(id)
		db.CreateTable(accountsTable())
		db.CreateTable(ordersTable())
		m, err := member.New(id, member.Source{Driver: memdb.DriverName, DSN: id}, 1)
		require.NoError(t, err)
		f.connector.Add(id, db)
		f.members = append(f.members, m)
		f.dbs[id] = db
	}
	return f
}

func (f *fixture) stateManager(t *testing.T) *state.LocalManager {
	t.Helper()
	sm, err := state.NewLocalManager(state.LocalConfig{
		ClusterID: "test",
		Path:      f.statePath,
		Members:   member.IDs(f.members),
	})
	require.NoError(t, err)
	return sm
}

// record writes a resolved initial state.
func (f *fixture) record(t *testing.T, ids ...string) {
	t.Helper()
	require.NoError(t, f.stateManager(t).Replace(ids))
}

func (f *fixture) recorded(t *testing.T) []string {
	t.Helper()
	ids, _, err := f.stateManager(t).InitialState()
	require.NoError(t, err)
	return ids
}

func (f *fixture) config(t *testing.T) Config {
	return Config{
		ID:           "test",
		Members:      f.members,
		Connector:    f.connector,
		Dialect:      dialect.Standard(),
		Metadata:     schema.NewLazyCache(memdb.Loader{}, logging.NewNopLogger()),
		StateManager: f.stateManager(t),
		MaxWorkers:   4,
		Logger:       logging.NewNopLogger(),
		Metrics:      f.metrics,
	}
}

func (f *fixture) start(t *testing.T, cfg Config) *Cluster {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	require.NoError(t, c.Start(context.Background()))
	return c
}
