package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/admin"
	"github.com/dd0wney/cluso-dbcluster/pkg/health"
)

type fakeSource struct {
	members  []admin.MemberStatus
	report   health.Response
	err      error
	calls    []string
	strategy string
}

func (f *fakeSource) Members(ctx context.Context) ([]admin.MemberStatus, error) {
	return f.members, f.err
}

func (f *fakeSource) Health(ctx context.Context) (health.Response, error) {
	return f.report, nil
}

func (f *fakeSource) set(id, state string) admin.MemberStatus {
	for i := range f.members {
		if f.members[i].ID == id {
			f.members[i].State = state
			return f.members[i]
		}
	}
	return admin.MemberStatus{}
}

func (f *fakeSource) Activate(ctx context.Context, id, strategy string) (admin.MemberStatus, error) {
	f.calls = append(f.calls, "activate "+id)
	f.strategy = strategy
	return f.set(id, "active"), nil
}

func (f *fakeSource) Deactivate(ctx context.Context, id string) (admin.MemberStatus, error) {
	f.calls = append(f.calls, "deactivate "+id)
	return f.set(id, "inactive"), nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		members: []admin.MemberStatus{
			{ID: "db1", Driver: "pgx", Weight: 1, State: "active"},
			{ID: "db2", Driver: "pgx", Weight: 2, State: "active"},
		},
		report: health.Response{
			Status: health.StatusHealthy,
			Checks: map[string]health.Check{
				"cluster":    {Name: "cluster", Status: health.StatusHealthy},
				"member:db1": {Name: "member:db1", Status: health.StatusHealthy},
			},
		},
	}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(t *testing.T, src *fakeSource) model {
	t.Helper()
	m := initialModel(src, time.Second, "passive")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, m.fetch()())
	return m
}

func TestSnapshotFillsTable(t *testing.T) {
	m := loaded(t, newFakeSource())

	rows := m.memberTable.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "db1", rows[0][0])
	assert.Equal(t, "2", rows[1][2])
	assert.False(t, m.refreshed.IsZero())

	out := m.View()
	assert.Contains(t, out, "Members")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "db2")
}

func TestDeactivateSelectedMember(t *testing.T) {
	src := newFakeSource()
	m := loaded(t, src)

	m, cmd := update(t, m, runes("d"))
	require.NotNil(t, cmd)
	assert.Equal(t, "db1", m.pending)

	// A second action while one is pending is ignored.
	_, again := update(t, m, runes("a"))
	assert.Nil(t, again)

	msg := cmd()
	action, ok := msg.(actionMsg)
	require.True(t, ok)
	require.NoError(t, action.err)
	assert.Equal(t, []string{"deactivate db1"}, src.calls)

	m, refresh := update(t, m, action)
	assert.Empty(t, m.pending)
	assert.False(t, m.messageErr)
	assert.Contains(t, m.message, "db1 is inactive")

	m, _ = update(t, m, refresh())
	assert.Equal(t, "inactive", m.memberTable.Rows()[0][4])
	assert.Contains(t, m.View(), "1/2")
}

func TestActivateUsesStrategy(t *testing.T) {
	src := newFakeSource()
	m := loaded(t, src)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	_, cmd := update(t, m, runes("a"))
	require.NotNil(t, cmd)
	cmd()

	assert.Equal(t, []string{"activate db2"}, src.calls)
	assert.Equal(t, "passive", src.strategy)
}

func TestRefreshFailureShowsError(t *testing.T) {
	src := newFakeSource()
	m := loaded(t, src)

	src.err = errors.New("connection refused")
	m, _ = update(t, m, m.fetch()())

	assert.True(t, m.messageErr)
	assert.Contains(t, m.View(), "connection refused")
	assert.Len(t, m.memberTable.Rows(), 2)
}

func TestHealthView(t *testing.T) {
	m := loaded(t, newFakeSource())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, healthView, m.currentView)

	out := m.View()
	assert.Contains(t, out, "member:db1")
	assert.Contains(t, out, "cluster")

	// Member actions only apply on the members view.
	_, cmd := update(t, m, runes("d"))
	assert.Nil(t, cmd)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, membersView, m.currentView)
}

func TestQuit(t *testing.T) {
	m := loaded(t, newFakeSource())
	_, cmd := update(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
