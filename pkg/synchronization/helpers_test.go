package synchronization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/backend/memdb"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

func accountsTable() schema.Table {
	return schema.Table{
		Name: "accounts",
		Columns: []schema.Column{
			{Name: "id", Type: "integer", AutoIncrement: true},
			{Name: "balance", Type: "integer", Nullable: true},
		},
		PrimaryKey: &schema.UniqueConstraint{Name: "accounts_pk", Table: "accounts", Columns: []string{"id"}},
	}
}

// fixture is a set of memdb members sharing one schema.
type fixture struct {
	connector *memdb.Connector
	members   map[string]*member.Member
	dbs       map[string]*memdb.DB
	metadata  *schema.LazyCache
}

func newFixture(t *testing.T, define func(db *memdb.DB), ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		connector: memdb.NewConnector(),
		members:   make(map[string]*member.Member),
		dbs:       make(map[string]*memdb.DB),
		metadata:  schema.NewLazyCache(memdb.Loader{}, logging.NewNopLogger()),
	}
	for _, id := range ids {
		db := memdb.New(id)
		define(db)
		m, err := member.New(id, member.Source{Driver: memdb.DriverName, DSN: id}, 1)
		require.NoError(t, err)
		f.connector.Add(id, db)
		f.members[id] = m
		f.dbs[id] = db
	}
	return f
}

func (f *fixture) load(t *testing.T, id, table string, rows ...[]any) {
	t.Helper()
	require.NoError(t, f.dbs[id].Insert(table, rows...))
}

// context builds a synchronization context; active defaults to the source.
func (f *fixture) context(t *testing.T, source, target string, active ...string) *Context {
	t.Helper()
	if len(active) == 0 {
		active = []string{source}
	}
	var members []*member.Member
	for _, id := range active {
		members = append(members, f.members[id])
	}
	sc, err := NewContext(context.Background(), ContextConfig{
		Source:        f.members[source],
		Target:        f.members[target],
		ActiveMembers: members,
		Connector:     f.connector,
		Dialect:       dialect.Standard(),
		Metadata:      f.metadata,
		Workers:       2,
		Logger:        logging.NewNopLogger(),
		Metrics:       metrics.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close(context.Background()) })
	return sc
}

// recordingTx counts batches sent through ExecBatch.
type recordingTx struct {
	backend.Tx
	batches [][]backend.Statement
}

func (r *recordingTx) ExecBatch(_ context.Context, stmts []backend.Statement) error {
	r.batches = append(r.batches, append([]backend.Statement(nil), stmts...))
	return nil
}
