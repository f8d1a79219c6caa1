package group

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
)

// LocalNetwork connects instances living in one process. Messages still go
// through the wire codec.
type LocalNetwork struct {
	logger logging.Logger

	mu    sync.RWMutex
	nodes map[string]*LocalNode
}

// NewLocalNetwork creates an empty in-process network.
func NewLocalNetwork(logger logging.Logger) *LocalNetwork {
	return &LocalNetwork{
		logger: logging.OrNop(logger).With(logging.Component("group")),
		nodes:  make(map[string]*LocalNode),
	}
}

// Join adds an instance and notifies every member of the new view.
func (n *LocalNetwork) Join(id string) (*LocalNode, error) {
	n.mu.Lock()
	if _, ok := n.nodes[id]; ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, id)
	}
	node := &LocalNode{
		network:  n,
		id:       id,
		handlers: handlers{byType: make(map[string]Handler)},
	}
	n.nodes[id] = node
	n.mu.Unlock()

	n.logger.Info("instance joined", logging.InstanceID(id))
	n.notify(View{Joined: []string{id}})
	return node, nil
}

func (n *LocalNetwork) leave(id string) {
	n.mu.Lock()
	if _, ok := n.nodes[id]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.nodes, id)
	n.mu.Unlock()

	n.logger.Info("instance left", logging.InstanceID(id))
	n.notify(View{Left: []string{id}})
}

func (n *LocalNetwork) notify(v View) {
	v.Members = n.members()
	for _, node := range n.snapshot("") {
		node.mu.RLock()
		fns := slices.Clone(node.handlers.views)
		node.mu.RUnlock()
		for _, fn := range fns {
			fn(v)
		}
	}
}

func (n *LocalNetwork) members() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Sorted(maps.Keys(n.nodes))
}

// snapshot returns every node except the excluded id, ordered by id.
func (n *LocalNetwork) snapshot(exclude string) []*LocalNode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*LocalNode
	for _, id := range slices.Sorted(maps.Keys(n.nodes)) {
		if id != exclude {
			out = append(out, n.nodes[id])
		}
	}
	return out
}

// LocalNode is one instance on a LocalNetwork.
type LocalNode struct {
	network *LocalNetwork
	id      string

	mu       sync.RWMutex
	handlers handlers
	closed   bool
}

func (l *LocalNode) LocalID() string     { return l.id }
func (l *LocalNode) Members() []string   { return l.network.members() }
func (l *LocalNode) Coordinator() string { return coordinator(l.Members()) }

func (l *LocalNode) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Broadcast delivers msg to every other member in id order before returning.
func (l *LocalNode) Broadcast(ctx context.Context, msg Message) error {
	if l.isClosed() {
		return ErrClosed
	}
	msg.From = l.id
	frame, err := encode(envelope{Message: &msg})
	if err != nil {
		return err
	}
	for _, peer := range l.network.snapshot(l.id) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := peer.deliver(ctx, frame); err != nil {
			l.network.logger.Warn("broadcast delivery failed",
				logging.InstanceID(peer.id), logging.String("type", msg.Type), logging.Error(err))
		}
	}
	return nil
}

// Survey asks every other member concurrently.
func (l *LocalNode) Survey(ctx context.Context, msg Message) ([]Reply, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}
	msg.From = l.id
	frame, err := encode(envelope{Message: &msg})
	if err != nil {
		return nil, err
	}

	peers := l.network.snapshot(l.id)
	results := make(chan Reply, len(peers))
	for _, peer := range peers {
		go func() {
			r, err := peer.deliver(ctx, frame)
			if err != nil {
				r = Reply{From: peer.id, Error: err.Error()}
			}
			results <- r
		}()
	}

	replies := make([]Reply, 0, len(peers))
	for len(replies) < len(peers) {
		select {
		case r := <-results:
			replies = append(replies, r)
		case <-ctx.Done():
			return replies, fmt.Errorf("%w: %d of %d replied: %w", ErrSurveyIncomplete, len(replies), len(peers), ctx.Err())
		}
	}
	return replies, nil
}

func (l *LocalNode) deliver(ctx context.Context, frame []byte) (Reply, error) {
	if l.isClosed() {
		return Reply{}, ErrClosed
	}
	env, err := decode(frame)
	if err != nil {
		return Reply{}, err
	}
	if env.Message == nil {
		return Reply{}, fmt.Errorf("frame carries no message")
	}

	l.mu.RLock()
	h := handlers{byType: l.handlers.byType}
	l.mu.RUnlock()

	r := h.reply(ctx, l.id, *env.Message)
	// Replies cross the wire too.
	out, err := encode(envelope{Reply: &r})
	if err != nil {
		return Reply{}, err
	}
	back, err := decode(out)
	if err != nil {
		return Reply{}, err
	}
	return *back.Reply, nil
}

func (l *LocalNode) Handle(msgType string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byType := maps.Clone(l.handlers.byType)
	byType[msgType] = h
	l.handlers.byType = byType
}

func (l *LocalNode) OnViewChange(fn func(View)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers.views = append(l.handlers.views, fn)
}

// Close leaves the network; the remaining members see a view change.
func (l *LocalNode) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	l.network.leave(l.id)
	return nil
}

var _ Network = (*LocalNode)(nil)
