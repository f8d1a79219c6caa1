package synchronization

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend/memdb"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

func defineSequences(db *memdb.DB) {
	db.CreateTable(accountsTable())
	db.CreateSequence(schema.Sequence{Name: "invoice_seq", Increment: 1}, 0)
	db.CreateSequence(schema.Sequence{Name: "ticket_seq", Increment: 5}, 0)
}

func setSequences(f *fixture, id string, invoice, ticket int64) {
	f.dbs[id].CreateSequence(schema.Sequence{Name: "invoice_seq", Increment: 1}, invoice)
	f.dbs[id].CreateSequence(schema.Sequence{Name: "ticket_seq", Increment: 5}, ticket)
}

func TestSynchronizeSequences(t *testing.T) {
	f := newFixture(t, defineSequences, "a", "b", "c")
	setSequences(f, "a", 41, 100)
	setSequences(f, "b", 41, 100)
	setSequences(f, "c", 3, 5)

	sc := f.context(t, "a", "c", "a", "b")
	require.NoError(t, SynchronizeSequences(context.Background(), sc))

	assert.Equal(t, int64(41), f.dbs["c"].SequenceValue("invoice_seq"))
	assert.Equal(t, int64(100), f.dbs["c"].SequenceValue("ticket_seq"))
	assert.Contains(t, f.dbs["c"].Statements(), `ALTER SEQUENCE "invoice_seq" RESTART WITH 42`)
	assert.Contains(t, f.dbs["c"].Statements(), `ALTER SEQUENCE "ticket_seq" RESTART WITH 105`)
	assert.Equal(t, int64(41), f.dbs["a"].SequenceValue("invoice_seq"), "reading does not advance")
}

func TestSynchronizeSequencesDivergence(t *testing.T) {
	f := newFixture(t, defineSequences, "a", "b", "c")
	setSequences(f, "a", 41, 100)
	setSequences(f, "b", 42, 100)
	setSequences(f, "c", 3, 5)

	sc := f.context(t, "a", "c", "a", "b")
	err := SynchronizeSequences(context.Background(), sc)
	require.ErrorIs(t, err, ErrSequenceDivergence)
	assert.Contains(t, err.Error(), "invoice_seq")

	assert.Equal(t, int64(41), f.dbs["a"].SequenceValue("invoice_seq"))
	assert.Equal(t, int64(42), f.dbs["b"].SequenceValue("invoice_seq"))
	assert.Equal(t, int64(3), f.dbs["c"].SequenceValue("invoice_seq"))
	for _, id := range []string{"a", "b", "c"} {
		for _, stmt := range f.dbs[id].Statements() {
			assert.False(t, strings.HasPrefix(stmt, "ALTER"), "%s executed %s", id, stmt)
		}
	}
}

func TestSynchronizeSequencesMemberDown(t *testing.T) {
	f := newFixture(t, defineSequences, "a", "b", "c")
	sc := f.context(t, "a", "c", "a", "b")
	f.dbs["b"].SetDown(true)

	err := SynchronizeSequences(context.Background(), sc)
	require.ErrorIs(t, err, memdb.ErrDown)
	assert.Empty(t, f.dbs["c"].Statements())
}

func TestSynchronizeIdentityColumns(t *testing.T) {
	define := func(db *memdb.DB) {
		db.CreateTable(accountsTable())
		empty := accountsTable()
		empty.Name = "ledger"
		db.CreateTable(empty)
	}
	f := newFixture(t, define, "src", "dst")
	f.load(t, "src", "accounts", []any{4, 1}, []any{17, 2})

	require.NoError(t, SynchronizeIdentityColumns(context.Background(), f.context(t, "src", "dst")))
	assert.Equal(t, int64(18), f.dbs["dst"].IdentityStart("accounts", "id"))
	assert.Zero(t, f.dbs["dst"].IdentityStart("ledger", "id"), "empty tables are skipped")
}
