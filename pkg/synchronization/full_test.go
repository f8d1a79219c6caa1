package synchronization

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend/memdb"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

func defineShop(db *memdb.DB) {
	db.CreateTable(accountsTable())
	db.CreateTable(schema.Table{
		Name: "orders",
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "account_id", Type: "integer"},
			{Name: "receipt", Type: "blob", Nullable: true},
		},
		PrimaryKey: &schema.UniqueConstraint{Name: "orders_pk", Table: "orders", Columns: []string{"id"}},
		ForeignKeys: []schema.ForeignKeyConstraint{{
			Name: "orders_account_fk", Table: "orders", Columns: []string{"account_id"},
			ReferencedTable: "accounts", ReferencedColumns: []string{"id"},
		}},
	})
	db.CreateSequence(schema.Sequence{Name: "order_seq", Increment: 1}, 0)
}

func TestFullCopiesEveryTable(t *testing.T) {
	f := newFixture(t, defineShop, "src", "dst")
	f.load(t, "src", "accounts", []any{1, 100}, []any{2, 200})
	f.load(t, "src", "orders", []any{10, 1, []byte("r1")}, []any{11, 2, nil})
	f.load(t, "dst", "accounts", []any{1, 5}, []any{3, 300})
	f.dbs["src"].CreateSequence(schema.Sequence{Name: "order_seq", Increment: 1}, 11)

	full, err := NewFull(FullConfig{BatchSize: 1})
	require.NoError(t, err)
	sc := f.context(t, "src", "dst")
	require.NoError(t, full.Synchronize(context.Background(), sc))

	for _, table := range []string{"accounts", "orders"} {
		assert.Equal(t, f.dbs["src"].Rows(table), f.dbs["dst"].Rows(table), table)
	}
	assert.Equal(t, TableStats{Inserted: 2, Deleted: 2}, sc.Stats()["accounts"])
	assert.Equal(t, TableStats{Inserted: 2}, sc.Stats()["orders"])
	assert.Contains(t, f.dbs["dst"].Statements(), `SELECT COUNT(*) FROM "accounts"`)
	assert.Empty(t, f.dbs["dst"].MissingConstraints())
	assert.Equal(t, int64(3), f.dbs["dst"].IdentityStart("accounts", "id"))
	assert.Equal(t, int64(11), f.dbs["dst"].SequenceValue("order_seq"))
}

func TestFullTableFailureAbortsAndRollsBack(t *testing.T) {
	f := newFixture(t, defineShop, "src", "dst")
	f.load(t, "src", "accounts", []any{1, 100})
	f.load(t, "src", "orders", []any{10, 1, nil})
	f.load(t, "dst", "orders", []any{99, 1, nil})
	boom := errors.New("connection reset")
	f.dbs["dst"].FailOn(func(sql string) error {
		if sql == `INSERT INTO "orders" ("id", "account_id", "receipt") VALUES (?, ?, ?)` {
			return boom
		}
		return nil
	})

	full, err := NewFull(FullConfig{})
	require.NoError(t, err)
	err = full.Synchronize(context.Background(), f.context(t, "src", "dst"))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "table orders")

	assert.Equal(t, [][]any{{99, 1, nil}}, f.dbs["dst"].Rows("orders"), "failed table keeps its rows")
	assert.Empty(t, f.dbs["dst"].MissingConstraints(), "dropped foreign keys are recreated")
	assert.Zero(t, f.dbs["dst"].SequenceValue("order_seq"), "no reconciliation after a failure")
}

func TestFullCancelledContext(t *testing.T) {
	f := newFixture(t, defineShop, "src", "dst")
	f.load(t, "src", "accounts", []any{1, 100})
	f.load(t, "dst", "accounts", []any{7, 700})
	sc := f.context(t, "src", "dst")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	full, err := NewFull(FullConfig{})
	require.NoError(t, err)
	require.ErrorIs(t, full.Synchronize(ctx, sc), context.Canceled)
	assert.Equal(t, [][]any{{7, 700}}, f.dbs["dst"].Rows("accounts"))
}
