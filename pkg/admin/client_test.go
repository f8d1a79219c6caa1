package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/auth"
	"github.com/dd0wney/cluso-dbcluster/pkg/health"
)

func TestClientRoundTrip(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx := context.Background()
	client := NewClient(srv.URL+"/", "", nil)

	members, err := client.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)

	st, err := client.Deactivate(ctx, "db2")
	require.NoError(t, err)
	assert.Equal(t, "inactive", st.State)

	st, err = client.Activate(ctx, "db2", "passive")
	require.NoError(t, err)
	assert.Equal(t, "active", st.State)

	st, err = client.Member(ctx, "db1")
	require.NoError(t, err)
	assert.Equal(t, "db1", st.ID)

	report, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, report.Status)
}

func TestClientErrors(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx := context.Background()
	client := NewClient(srv.URL, "", nil)

	_, err := client.Member(ctx, "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "nope")

	_, err = client.Deactivate(ctx, "db2")
	require.NoError(t, err)
	_, err = client.Activate(ctx, "db2", "magic")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClientSendsToken(t *testing.T) {
	authn, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", "test", time.Hour)
	require.NoError(t, err)
	s := newTestServerWithAuth(t, authn)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx := context.Background()
	_, err = NewClient(srv.URL, "", nil).Members(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	token, err := authn.GenerateToken("dashboard", auth.RoleViewer)
	require.NoError(t, err)
	members, err := NewClient(srv.URL, token, nil).Members(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestClientHealthUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unhealthy","checks":{}}`))
	}))
	defer srv.Close()

	report, err := NewClient(srv.URL, "", nil).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnhealthy, report.Status)
}
