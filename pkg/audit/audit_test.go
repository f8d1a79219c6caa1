package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/auth"
)

func TestNewEventActor(t *testing.T) {
	e := NewEvent(context.Background(), ActionDeactivate, "db2", "", nil)
	assert.Equal(t, Anonymous, e.Actor)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.NotEmpty(t, e.ID)

	authn, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", "c1", time.Hour)
	require.NoError(t, err)
	token, err := authn.GenerateToken("alice", auth.RoleOperator)
	require.NoError(t, err)
	claims, err := authn.ValidateToken(token)
	require.NoError(t, err)

	var ctx context.Context
	authn.Require(auth.RoleViewer)(httpCapture(&ctx)).ServeHTTP(newRecorder(), bearer(token))
	require.NotNil(t, ctx)

	e = NewEvent(ctx, ActionActivate, "db2", "full", errors.New("boom"))
	assert.Equal(t, claims.Subject, e.Actor)
	assert.Equal(t, auth.RoleOperator, e.Role)
	assert.Equal(t, StatusFailure, e.Status)
	assert.Equal(t, "boom", e.ErrorMessage)
	assert.Contains(t, e.String(), "alice activate db2: failure (boom)")
}

func TestAuditLoggerRing(t *testing.T) {
	l := NewAuditLogger(3)
	for i := range 5 {
		require.NoError(t, l.Log(&Event{Action: ActionActivate, MemberID: fmt.Sprintf("db%d", i)}))
	}
	assert.Equal(t, 3, l.Count())

	events := l.Events(nil, 0)
	require.Len(t, events, 3)
	assert.Equal(t, "db4", events[0].MemberID, "newest first")
	assert.Equal(t, "db2", events[2].MemberID)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Len(t, l.Events(nil, 2), 2)
}

func TestAuditLoggerFilter(t *testing.T) {
	l := NewAuditLogger(0)
	old := time.Now().Add(-time.Hour)
	l.Log(&Event{Actor: "alice", Action: ActionActivate, MemberID: "db1", Status: StatusSuccess, Timestamp: old})
	l.Log(&Event{Actor: "bob", Action: ActionDeactivate, MemberID: "db1", Status: StatusFailure})
	l.Log(&Event{Actor: "alice", Action: ActionDeactivate, MemberID: "db2", Status: StatusSuccess})

	assert.Len(t, l.Events(&Filter{Actor: "alice"}, 0), 2)
	assert.Len(t, l.Events(&Filter{MemberID: "db1", Action: ActionDeactivate}, 0), 1)
	assert.Len(t, l.Events(&Filter{Status: StatusFailure}, 0), 1)
	assert.Len(t, l.Events(&Filter{Since: time.Now().Add(-time.Minute)}, 0), 2)
}

func TestFileLoggerChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Log(NewEvent(context.Background(), ActionDeactivate, "db2", "", nil)))
	require.NoError(t, l.Log(NewEvent(context.Background(), ActionActivate, "db2", "full", nil)))
	require.NoError(t, l.Close())

	// Reopening continues the chain.
	l, err = OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Log(NewEvent(context.Background(), ActionDeactivate, "db1", "", nil)))
	require.NoError(t, l.Close())

	n, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"actor":"anonymous"`, `"actor":"mallory"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	_, err = Verify(path)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestFileLoggerDroppedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := OpenFile(path)
	require.NoError(t, err)
	for _, id := range []string{"db1", "db2", "db3"} {
		require.NoError(t, l.Log(NewEvent(context.Background(), ActionDeactivate, id, "", nil)))
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(data), "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines[0]+lines[2]), 0600))

	_, err = Verify(path)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := NewTrail(10, path)
	require.NoError(t, err)

	require.NoError(t, trail.Log(NewEvent(context.Background(), ActionDeactivate, "db1", "", nil)))
	require.NoError(t, trail.Close())
	assert.Equal(t, 1, trail.Count())

	n, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The file is closed, so only the in-memory copy is recorded.
	err = trail.Log(NewEvent(context.Background(), ActionActivate, "db1", "", nil))
	assert.Error(t, err)
	assert.Equal(t, 2, trail.Count())

	memOnly, err := NewTrail(0, "")
	require.NoError(t, err)
	require.NoError(t, memOnly.Log(&Event{MemberID: "db1"}))
	require.NoError(t, memOnly.Close())
}

func httpCapture(ctx *context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*ctx = r.Context()
	})
}

func newRecorder() *httptest.ResponseRecorder { return httptest.NewRecorder() }

func bearer(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/members/db2/activate", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}
