package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newLocal(t *testing.T, path string, members ...string) *LocalManager {
	t.Helper()
	m, err := NewLocalManager(LocalConfig{ClusterID: "orders", Path: path, Members: members})
	require.NoError(t, err)
	return m
}

func readDoc(t *testing.T, path string) document {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc document
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func TestLocalConfigValidate(t *testing.T) {
	_, err := NewLocalManager(LocalConfig{})
	assert.Error(t, err)
	_, err = NewLocalManager(LocalConfig{ClusterID: "c", Path: "x", Members: []string{"a", "a"}})
	assert.Error(t, err)
}

func TestLocalStateMissingIsUnresolved(t *testing.T) {
	m := newLocal(t, filepath.Join(t.TempDir(), "state.yaml"), "db1", "db2")
	ids, ok, err := m.InitialState()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ids)
}

func TestLocalStateAddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	var events []Event
	m, err := NewLocalManager(LocalConfig{
		ClusterID: "orders",
		Path:      path,
		Members:   []string{"db1", "db2", "db3"},
		Listener:  func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	require.NoError(t, m.MemberAdded("db2"))
	require.NoError(t, m.MemberAdded("db1"))
	require.NoError(t, m.MemberAdded("db1"))

	assert.Equal(t, "db1,db2", readDoc(t, path).Clusters["orders"])

	ids, ok, err := newLocal(t, path, "db1", "db2", "db3").InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"db1", "db2"}, ids)

	require.NoError(t, m.MemberRemoved("db1"))
	require.NoError(t, m.MemberRemoved("db2"))
	ids, ok, err = m.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)
	assert.Contains(t, readDoc(t, path).Clusters, "orders")

	require.Len(t, events, 5)
	assert.Equal(t, Event{MemberID: "db2", Added: true}, events[0])
	assert.Equal(t, Event{MemberID: "db2", Added: false}, events[4])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLocalStateEmptyIsResolved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clusters:\n  orders: \"\"\n"), 0o644))

	ids, ok, err := newLocal(t, path, "db1", "db2").InitialState()
	require.NoError(t, err)
	assert.True(t, ok, "an empty record is a resolved empty set")
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	// Emptying the set through the manager keeps the record.
	m := newLocal(t, filepath.Join(t.TempDir(), "state.yaml"), "db1")
	require.NoError(t, m.MemberAdded("db1"))
	require.NoError(t, m.MemberRemoved("db1"))
	ids, ok, err = newLocal(t, m.Path(), "db1").InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)

	require.NoError(t, m.Replace(nil))
	_, ok, err = m.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStateUnknownMemberInvalidatesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clusters:\n  orders: db1,retired\n"), 0o644))

	m := newLocal(t, path, "db1", "db2")
	ids, ok, err := m.InitialState()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ids)

	// The next change starts from an empty set.
	require.NoError(t, m.MemberAdded("db2"))
	assert.Equal(t, "db2", readDoc(t, path).Clusters["orders"])
}

func TestLocalStatePreservesOtherClusters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clusters:\n  billing: x,y\n"), 0o644))

	m := newLocal(t, path, "db1")
	require.NoError(t, m.MemberAdded("db1"))

	doc := readDoc(t, path)
	assert.Equal(t, "x,y", doc.Clusters["billing"])
	assert.Equal(t, "db1", doc.Clusters["orders"])
}

func TestLocalStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clusters: [unterminated"), 0o644))

	_, _, err := newLocal(t, path, "db1").InitialState()
	assert.Error(t, err)
}

func TestLocalStateReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	m := newLocal(t, path, "a", "b", "c")

	require.NoError(t, m.Replace([]string{"c", "a"}))
	ids, ok, err := m.InitialState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "c"}, ids)
}
