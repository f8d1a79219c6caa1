package synchronization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
)

func TestStrategiesRegistry(t *testing.T) {
	strategies := DefaultStrategies()
	assert.Equal(t, []string{DiffID, FullID, PassiveID}, strategies.IDs())

	s, err := strategies.Get(DiffID)
	require.NoError(t, err)
	assert.Equal(t, DiffID, s.ID())

	_, err = strategies.Get("rsync")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestStrategyConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"full negative batch", FullConfig{BatchSize: -1}.Validate()},
		{"diff bad pattern", DiffConfig{VersionPattern: "("}.Validate()},
		{"dump restore missing commands", DumpRestoreConfig{}.Validate()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.err)
		})
	}

	assert.NoError(t, DiffConfig{BatchSize: 10, VersionPattern: "^version$"}.Validate())

	_, err := NewDifferential(DiffConfig{VersionPattern: "["})
	assert.Error(t, err)
	_, err = NewDumpRestore(DumpRestoreConfig{DumpCommand: []string{"pg_dump"}})
	assert.Error(t, err)
}

func TestPassiveDoesNothing(t *testing.T) {
	f := newFixture(t, defineAccounts, "src", "dst")
	f.load(t, "src", "accounts", []any{1, 1})

	require.NoError(t, Passive{}.Synchronize(context.Background(), f.context(t, "src", "dst")))
	assert.Empty(t, f.dbs["dst"].Statements())
	assert.Empty(t, f.dbs["dst"].Rows("accounts"))
}

func TestContextReleasesConnections(t *testing.T) {
	f := newFixture(t, defineSequences, "a", "b", "c")
	sc := f.context(t, "a", "c", "a", "b")
	require.NoError(t, SynchronizeSequences(context.Background(), sc))
	assert.Equal(t, int64(1), f.dbs["b"].OpenConns())

	require.NoError(t, sc.Close(context.Background()))
	for id, db := range f.dbs {
		assert.Zero(t, db.OpenConns(), id)
	}
}

func TestNewContextReleasesOnFailure(t *testing.T) {
	f := newFixture(t, defineAccounts, "src", "dst")
	f.dbs["dst"].SetDown(true)

	_, err := NewContext(context.Background(), ContextConfig{
		Source:    f.members["src"],
		Target:    f.members["dst"],
		Connector: f.connector,
		Dialect:   dialect.Standard(),
		Metadata:  f.metadata,
		Logger:    logging.NewNopLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target dst")
	assert.Zero(t, f.dbs["src"].OpenConns())
}
