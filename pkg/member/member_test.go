package member

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pg(dsn string) Source {
	return Source{Driver: "pgx", DSN: dsn}
}

func TestNew(t *testing.T) {
	m, err := New("db1", pg("postgres://db1/app"), 2)
	require.NoError(t, err)
	assert.Equal(t, "db1", m.ID)
	assert.False(t, m.IsActive())
	assert.False(t, m.IsDirty())

	_, err = New("", pg("postgres://x"), 1)
	assert.Error(t, err)

	_, err = New(strings.Repeat("x", 65), pg("postgres://x"), 1)
	assert.Error(t, err)

	_, err = New("db1", pg("postgres://x"), -1)
	assert.Error(t, err)

	_, err = New("db1", Source{DSN: "x"}, 1)
	assert.Error(t, err, "driver is required")
}

func TestFlags(t *testing.T) {
	m, err := New("db1", pg("postgres://db1/app"), 1)
	require.NoError(t, err)

	m.SetActive(true)
	assert.True(t, m.IsActive())

	m.MarkDirty()
	assert.True(t, m.IsDirty())
	assert.True(t, m.Clean())
	assert.False(t, m.Clean())
}

func TestCompare(t *testing.T) {
	a, _ := New("a", pg("x"), 1)
	b, _ := New("b", pg("x"), 3)
	c, _ := New("c", pg("x"), 1)

	members := []*Member{c, a, b}
	slices.SortFunc(members, Compare)

	assert.Equal(t, []string{"b", "a", "c"}, IDs(members))
}
