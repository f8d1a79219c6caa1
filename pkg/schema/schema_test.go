package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// cannedQuerier answers queries from a fixed map of SQL to rows.
type cannedQuerier struct {
	results map[string][][]any
	calls   int
}

func (q *cannedQuerier) Query(_ context.Context, sql string, _ ...any) (backend.Rows, error) {
	q.calls++
	rows, ok := q.results[sql]
	if !ok {
		return nil, fmt.Errorf("unexpected query %q", sql)
	}
	return &sliceRows{rows: rows, pos: -1}, nil
}

func (q *cannedQuerier) Exec(context.Context, string, ...any) (int64, error) {
	return 0, errors.New("read only")
}

type sliceRows struct {
	rows [][]any
	pos  int
}

func (r *sliceRows) Next() bool             { r.pos++; return r.pos < len(r.rows) }
func (r *sliceRows) Values() ([]any, error) { return r.rows[r.pos], nil }
func (r *sliceRows) Err() error             { return nil }
func (r *sliceRows) Close()                 {}

var testQueries = Queries{
	Tables:      "tables",
	Columns:     "columns",
	Keys:        "keys",
	ForeignKeys: "fks",
	Sequences:   "sequences",
}

func newCanned() *cannedQuerier {
	return &cannedQuerier{results: map[string][][]any{
		"tables": {{"accounts"}, {"transfers"}},
		"columns": {
			{"accounts", "id", "integer", "NO", "YES"},
			{"accounts", "balance", "integer", "YES", "NO"},
			{"accounts", "email", "text", "YES", "NO"},
			{"transfers", "id", "integer", "NO", "NO"},
			{"transfers", "account_id", "integer", "NO", "NO"},
			{"ignored", "x", "integer", "NO", "NO"},
		},
		"keys": {
			{"accounts", "accounts_pkey", "PRIMARY KEY", "id"},
			{"accounts", "accounts_email_key", "UNIQUE", "email"},
			{"transfers", "transfers_pkey", "PRIMARY KEY", "id"},
		},
		"fks": {
			{"transfers", "transfers_account_fk", "account_id", "accounts", "id"},
		},
		"sequences": {{"transfer_seq", []byte("5")}},
	}}
}

func TestQueryLoaderLoad(t *testing.T) {
	props, err := NewQueryLoader(testQueries).Load(context.Background(), newCanned())
	require.NoError(t, err)
	require.Len(t, props.Tables, 2)

	accounts, ok := props.Table("accounts")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "balance", "email"}, accounts.ColumnNames())
	assert.Equal(t, []string{"id"}, accounts.KeyColumns())
	assert.Equal(t, []string{"balance", "email"}, accounts.NonKeyColumns())
	assert.Equal(t, []string{"id"}, accounts.IdentityColumns())
	require.Len(t, accounts.UniqueConstraints, 1)
	assert.Equal(t, "accounts_email_key", accounts.UniqueConstraints[0].Name)

	fks := props.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, "transfers", fks[0].Table)
	assert.Equal(t, []string{"account_id"}, fks[0].Columns)
	assert.Equal(t, "accounts", fks[0].ReferencedTable)
	assert.Equal(t, []string{"id"}, fks[0].ReferencedColumns)

	require.Len(t, props.Sequences, 1)
	assert.Equal(t, int64(5), props.Sequences[0].Step())
}

func TestQueryLoaderSkipsEmptyQueries(t *testing.T) {
	q := newCanned()
	queries := testQueries
	queries.Sequences = ""

	props, err := NewQueryLoader(queries).Load(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, props.Sequences)
	assert.Equal(t, 4, q.calls)
}

func TestQueryLoaderShortRow(t *testing.T) {
	q := newCanned()
	q.results["columns"] = [][]any{{"accounts", "id"}}

	_, err := NewQueryLoader(testQueries).Load(context.Background(), q)
	assert.ErrorContains(t, err, "columns")
}

func TestLazyCacheReloadsDirtyMembers(t *testing.T) {
	q := newCanned()
	cache := NewLazyCache(NewQueryLoader(testQueries), logging.NewNopLogger())
	m, err := member.New("db1", member.Source{Driver: "memdb", DSN: "db1"}, 1)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cache.Properties(ctx, m, q)
	require.NoError(t, err)
	second, err := cache.Properties(ctx, m, q)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 5, q.calls)

	m.MarkDirty()
	third, err := cache.Properties(ctx, m, q)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 10, q.calls)
	assert.False(t, m.IsDirty())

	cache.Invalidate(m.ID)
	_, err = cache.Properties(ctx, m, q)
	require.NoError(t, err)
	assert.Equal(t, 15, q.calls)
}
