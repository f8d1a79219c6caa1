package group

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
)

type echo struct {
	Value string `json:"value"`
}

func TestCodecRoundTrip(t *testing.T) {
	msg, err := NewMessage("test.echo", echo{Value: "hello"})
	require.NoError(t, err)
	msg.From = "a"

	frame, err := encode(envelope{Message: &msg})
	require.NoError(t, err)

	env, err := decode(frame)
	require.NoError(t, err)
	require.NotNil(t, env.Message)
	assert.Nil(t, env.Reply)
	assert.Equal(t, msg.ID, env.Message.ID)
	assert.Equal(t, "a", env.Message.From)

	var got echo
	require.NoError(t, env.Message.Decode(&got))
	assert.Equal(t, "hello", got.Value)
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := decode([]byte("not snappy"))
	assert.Error(t, err)
}

func TestMessageDecodeWithoutPayload(t *testing.T) {
	msg, err := NewMessage("empty", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Error(t, msg.Decode(&echo{}))
}

func TestCoordinatorIsLowestID(t *testing.T) {
	assert.Equal(t, "", coordinator(nil))
	assert.Equal(t, "a", coordinator([]string{"c", "a", "b"}))
}

func joinAll(t *testing.T, n *LocalNetwork, ids ...string) []*LocalNode {
	t.Helper()
	nodes := make([]*LocalNode, len(ids))
	for i, id := range ids {
		node, err := n.Join(id)
		require.NoError(t, err)
		nodes[i] = node
	}
	return nodes
}

func TestLocalNetworkBroadcast(t *testing.T) {
	nodes := joinAll(t, NewLocalNetwork(nil), "a", "b", "c")

	var mu sync.Mutex
	var received []string
	for _, node := range nodes {
		node.Handle("test.echo", func(ctx context.Context, msg Message) (any, error) {
			var e echo
			if err := msg.Decode(&e); err != nil {
				return nil, err
			}
			mu.Lock()
			received = append(received, node.LocalID()+":"+msg.From+":"+e.Value)
			mu.Unlock()
			return nil, nil
		})
	}

	msg, err := NewMessage("test.echo", echo{Value: "x"})
	require.NoError(t, err)
	require.NoError(t, nodes[0].Broadcast(context.Background(), msg))

	assert.Equal(t, []string{"b:a:x", "c:a:x"}, received)
}

func TestLocalNetworkSurvey(t *testing.T) {
	nodes := joinAll(t, NewLocalNetwork(nil), "a", "b", "c")
	nodes[1].Handle("test.echo", func(ctx context.Context, msg Message) (any, error) {
		return echo{Value: "from b"}, nil
	})
	nodes[2].Handle("test.echo", func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New("refused")
	})

	msg, err := NewMessage("test.echo", nil)
	require.NoError(t, err)
	replies, err := nodes[0].Survey(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	byID := make(map[string]Reply)
	for _, r := range replies {
		byID[r.From] = r
	}
	var got echo
	require.NoError(t, byID["b"].Decode(&got))
	assert.Equal(t, "from b", got.Value)
	assert.Equal(t, "refused", byID["c"].Error)
}

func TestLocalNetworkSurveyMissingHandler(t *testing.T) {
	nodes := joinAll(t, NewLocalNetwork(nil), "a", "b")

	msg, err := NewMessage("unknown", nil)
	require.NoError(t, err)
	replies, err := nodes[0].Survey(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Error, "no handler")
}

func TestLocalNetworkSurveyTimeout(t *testing.T) {
	nodes := joinAll(t, NewLocalNetwork(nil), "a", "b", "c")
	release := make(chan struct{})
	defer close(release)

	nodes[1].Handle("slow", func(ctx context.Context, msg Message) (any, error) {
		<-release
		return nil, nil
	})
	nodes[2].Handle("slow", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	msg, err := NewMessage("slow", nil)
	require.NoError(t, err)

	replies, err := nodes[0].Survey(ctx, msg)
	assert.ErrorIs(t, err, ErrSurveyIncomplete)
	require.Len(t, replies, 1)
	assert.Equal(t, "c", replies[0].From)
}

func TestLocalNetworkViewChanges(t *testing.T) {
	n := NewLocalNetwork(nil)
	a, err := n.Join("b")
	require.NoError(t, err)

	var views []View
	a.OnViewChange(func(v View) { views = append(views, v) })

	other := joinAll(t, n, "a")[0]
	assert.Equal(t, "a", a.Coordinator())
	require.NoError(t, other.Close())
	assert.Equal(t, "b", a.Coordinator())

	require.Len(t, views, 2)
	assert.Equal(t, []string{"a"}, views[0].Joined)
	assert.Equal(t, []string{"a", "b"}, views[0].Members)
	assert.Equal(t, []string{"a"}, views[1].Left)
	assert.Equal(t, []string{"b"}, views[1].Members)

	_, err = n.Join("b")
	assert.ErrorIs(t, err, ErrDuplicateInstance)
}

func TestLocalNodeClosed(t *testing.T) {
	node := joinAll(t, NewLocalNetwork(nil), "a")[0]
	require.NoError(t, node.Close())
	require.NoError(t, node.Close())

	msg, err := NewMessage("x", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, node.Broadcast(context.Background(), msg), ErrClosed)
	_, err = node.Survey(context.Background(), msg)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMembershipHeartbeatAndExpire(t *testing.T) {
	m := NewMembership("a", metrics.NewRegistry())
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	assert.True(t, m.Heartbeat("b", 1))
	assert.False(t, m.Heartbeat("b", 2))
	assert.True(t, m.Heartbeat("c", 1))
	assert.Equal(t, []string{"a", "b", "c"}, m.IDs())

	info, err := m.Get("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.LastHeartbeatSeq)

	now = now.Add(3 * time.Second)
	m.Heartbeat("c", 2)
	assert.Equal(t, []string{"b"}, m.Expire(2*time.Second))
	assert.Equal(t, []string{"a", "c"}, m.IDs())

	assert.ErrorIs(t, m.Remove("a"), ErrCannotRemoveSelf)
	assert.ErrorIs(t, m.Remove("b"), ErrMemberNotFound)
	require.NoError(t, m.Remove("c"))
	assert.Equal(t, []string{"a"}, m.IDs())

	_, err = m.Get("c")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}
