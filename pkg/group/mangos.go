package group

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

const (
	heartbeatType = "group.heartbeat"
	leaveType     = "group.leave"
)

type heartbeat struct {
	Seq uint64 `json:"seq"`
}

// MangosConfig configures a MangosNetwork.
type MangosConfig struct {
	InstanceID string
	// PubAddr is where this instance publishes broadcasts and heartbeats.
	PubAddr string
	// SurveyAddr is where this instance sends surveys from.
	SurveyAddr        string
	Peers             []Peer
	HeartbeatInterval time.Duration
	// FailureTimeout removes a peer not heard from for this long.
	FailureTimeout time.Duration
	// SurveyTimeout bounds surveys whose context has no deadline.
	SurveyTimeout time.Duration
	// TLS secures tls+tcp:// endpoints. Ignored when Factory is set.
	TLS     *tls.Config
	Factory SocketFactory
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Validate checks the configuration.
func (c MangosConfig) Validate() error {
	cv := validation.NewConfigValidator("group").
		Required("instance_id", c.InstanceID).
		Required("pub_addr", c.PubAddr).
		Required("survey_addr", c.SurveyAddr).
		NonNegativeDuration("heartbeat_interval", c.HeartbeatInterval).
		NonNegativeDuration("failure_timeout", c.FailureTimeout).
		NonNegativeDuration("survey_timeout", c.SurveyTimeout)
	for i, p := range c.Peers {
		cv.Custom(fmt.Sprintf("peers[%d]", i), func() error { return validation.Struct(p) })
	}
	return cv.Validate()
}

// MangosNetwork is a Network over mangos sockets. Broadcasts and heartbeats
// travel on PUB/SUB; surveys on SURVEYOR/RESPONDENT. Peers are discovered
// from their heartbeats and dropped after FailureTimeout of silence.
//
// PUB/SUB delivery is best effort: a peer that is not yet connected misses
// broadcasts sent before it subscribed.
type MangosNetwork struct {
	config     MangosConfig
	logger     logging.Logger
	metrics    *metrics.Registry
	membership *Membership

	pub        ListenSocket
	sub        SubscribeSocket
	surveyor   SurveySocket
	respondent DialSocket

	mu       sync.RWMutex
	handlers handlers

	surveyMu sync.Mutex
	seq      atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewMangosNetwork creates the sockets, binds the local addresses and dials
// every peer. Call Start to begin exchanging messages.
func NewMangosNetwork(cfg MangosConfig) (n *MangosNetwork, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.HeartbeatInterval = validation.DefaultOr(cfg.HeartbeatInterval, time.Second)
	cfg.FailureTimeout = validation.DefaultOr(cfg.FailureTimeout, 5*cfg.HeartbeatInterval)
	cfg.SurveyTimeout = validation.DefaultOr(cfg.SurveyTimeout, 2*time.Second)
	if cfg.Factory == nil {
		cfg.Factory = NewMangosSocketFactory(cfg.TLS)
	}
	registry := metrics.OrDefault(cfg.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	n = &MangosNetwork{
		config:     cfg,
		logger:     logging.OrNop(cfg.Logger).With(logging.Component("group"), logging.InstanceID(cfg.InstanceID)),
		metrics:    registry,
		membership: NewMembership(cfg.InstanceID, registry),
		handlers:   handlers{byType: make(map[string]Handler)},
		ctx:        ctx,
		cancel:     cancel,
	}
	defer func() {
		if err != nil {
			n.closeSockets()
			cancel()
		}
	}()

	if n.pub, err = cfg.Factory.NewPubSocket(); err != nil {
		return nil, err
	}
	if err = n.pub.Listen(cfg.PubAddr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.PubAddr, err)
	}
	if n.surveyor, err = cfg.Factory.NewSurveyorSocket(); err != nil {
		return nil, err
	}
	if err = n.surveyor.Listen(cfg.SurveyAddr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.SurveyAddr, err)
	}

	if n.sub, err = cfg.Factory.NewSubSocket(); err != nil {
		return nil, err
	}
	if err = n.sub.Subscribe([]byte{}); err != nil {
		return nil, err
	}
	if n.respondent, err = cfg.Factory.NewRespondentSocket(); err != nil {
		return nil, err
	}
	// Receive loops wake up periodically to notice Close.
	if err = n.sub.SetRecvDeadline(cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if err = n.respondent.SetRecvDeadline(cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	for _, p := range cfg.Peers {
		if err = n.sub.Dial(p.PubAddr); err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", p.PubAddr, err)
		}
		if err = n.respondent.Dial(p.SurveyAddr); err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", p.SurveyAddr, err)
		}
	}
	return n, nil
}

// Start begins heartbeating and serving incoming messages.
func (n *MangosNetwork) Start() error {
	if n.closed.Load() {
		return ErrClosed
	}
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}
	n.wg.Add(3)
	go n.subscribeLoop()
	go n.respondLoop()
	go n.heartbeatLoop()
	n.logger.Info("group network started",
		logging.String("pub_addr", n.config.PubAddr),
		logging.String("survey_addr", n.config.SurveyAddr),
		logging.Int("peers", len(n.config.Peers)))
	return nil
}

func (n *MangosNetwork) LocalID() string     { return n.config.InstanceID }
func (n *MangosNetwork) Members() []string   { return n.membership.IDs() }
func (n *MangosNetwork) Coordinator() string { return coordinator(n.Members()) }

// Membership exposes the heartbeat tracker.
func (n *MangosNetwork) Membership() *Membership { return n.membership }

func (n *MangosNetwork) Handle(msgType string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	byType := maps.Clone(n.handlers.byType)
	byType[msgType] = h
	n.handlers.byType = byType
}

func (n *MangosNetwork) OnViewChange(fn func(View)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers.views = append(n.handlers.views, fn)
}

// Broadcast publishes msg to every subscribed peer.
func (n *MangosNetwork) Broadcast(ctx context.Context, msg Message) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.publish(msg)
}

func (n *MangosNetwork) publish(msg Message) error {
	msg.From = n.config.InstanceID
	frame, err := encode(envelope{Message: &msg})
	if err != nil {
		return err
	}
	if err := n.pub.Send(frame); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}
	if msg.Type != heartbeatType {
		n.metrics.RecordGroupMessage("out", msg.Type)
	}
	return nil
}

// Survey sends msg to every connected respondent and waits for the members
// currently in view. Only one survey is in flight at a time.
func (n *MangosNetwork) Survey(ctx context.Context, msg Message) ([]Reply, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	expected := make(map[string]bool)
	for _, id := range n.Members() {
		if id != n.config.InstanceID {
			expected[id] = true
		}
	}
	if len(expected) == 0 {
		return nil, nil
	}

	n.surveyMu.Lock()
	defer n.surveyMu.Unlock()

	wait := n.config.SurveyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if wait <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrSurveyIncomplete, context.DeadlineExceeded)
	}
	if err := n.surveyor.SetSurveyTime(wait); err != nil {
		return nil, err
	}

	msg.From = n.config.InstanceID
	frame, err := encode(envelope{Message: &msg})
	if err != nil {
		return nil, err
	}
	if err := n.surveyor.Send(frame); err != nil {
		return nil, fmt.Errorf("failed to send survey %s: %w", msg.Type, err)
	}
	n.metrics.RecordGroupMessage("out", msg.Type)

	var replies []Reply
	for len(replies) < len(expected) && ctx.Err() == nil {
		data, err := n.surveyor.Recv()
		if err != nil {
			break
		}
		env, err := decode(data)
		if err != nil || env.Reply == nil {
			n.logger.Warn("discarding malformed survey reply", logging.Error(err))
			continue
		}
		if !expected[env.Reply.From] || slices.ContainsFunc(replies, func(r Reply) bool { return r.From == env.Reply.From }) {
			continue
		}
		replies = append(replies, *env.Reply)
	}
	if len(replies) < len(expected) {
		return replies, fmt.Errorf("%w: %d of %d replied", ErrSurveyIncomplete, len(replies), len(expected))
	}
	return replies, nil
}

func (n *MangosNetwork) snapshotHandlers() handlers {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return handlers{byType: n.handlers.byType, views: slices.Clone(n.handlers.views)}
}

func (n *MangosNetwork) notify(v View) {
	v.Members = n.Members()
	n.logger.Info("group view changed",
		logging.Strings("members", v.Members),
		logging.Strings("joined", v.Joined),
		logging.Strings("left", v.Left))
	for _, fn := range n.snapshotHandlers().views {
		fn(v)
	}
}

func (n *MangosNetwork) subscribeLoop() {
	defer n.wg.Done()

	for n.ctx.Err() == nil {
		data, err := n.sub.Recv()
		if err != nil {
			continue
		}
		env, err := decode(data)
		if err != nil || env.Message == nil {
			n.logger.Warn("discarding malformed broadcast", logging.Error(err))
			continue
		}
		msg := *env.Message
		if msg.From == n.config.InstanceID {
			continue
		}

		switch msg.Type {
		case heartbeatType:
			var hb heartbeat
			if err := msg.Decode(&hb); err != nil {
				continue
			}
			if n.membership.Heartbeat(msg.From, hb.Seq) {
				n.notify(View{Joined: []string{msg.From}})
			}
		case leaveType:
			if n.membership.Remove(msg.From) == nil {
				n.notify(View{Left: []string{msg.From}})
			}
		default:
			n.metrics.RecordGroupMessage("in", msg.Type)
			h := n.snapshotHandlers()
			if handler, ok := h.byType[msg.Type]; ok {
				if _, err := handler(n.ctx, msg); err != nil {
					n.logger.Warn("broadcast handler failed",
						logging.String("type", msg.Type), logging.InstanceID(msg.From), logging.Error(err))
				}
			}
		}
	}
}

func (n *MangosNetwork) respondLoop() {
	defer n.wg.Done()

	for n.ctx.Err() == nil {
		data, err := n.respondent.Recv()
		if err != nil {
			continue
		}
		env, err := decode(data)
		if err != nil || env.Message == nil {
			n.logger.Warn("discarding malformed survey", logging.Error(err))
			continue
		}
		n.metrics.RecordGroupMessage("in", env.Message.Type)

		h := n.snapshotHandlers()
		r := h.reply(n.ctx, n.config.InstanceID, *env.Message)
		frame, err := encode(envelope{Reply: &r})
		if err != nil {
			n.logger.Error("failed to encode survey reply", logging.Error(err))
			continue
		}
		if err := n.respondent.Send(frame); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Warn("failed to send survey reply", logging.Error(err))
		}
	}
}

func (n *MangosNetwork) heartbeatLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		msg, err := NewMessage(heartbeatType, heartbeat{Seq: n.seq.Add(1)})
		if err == nil {
			if err := n.publish(msg); err != nil {
				n.logger.Debug("heartbeat failed", logging.Error(err))
			}
		}
		if left := n.membership.Expire(n.config.FailureTimeout); len(left) > 0 {
			n.notify(View{Left: left})
		}

		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close announces departure, stops the loops and closes the sockets.
func (n *MangosNetwork) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n.started.Load() {
		if msg, err := NewMessage(leaveType, nil); err == nil {
			n.publish(msg)
		}
	}
	n.cancel()
	n.closeSockets()
	n.wg.Wait()
	n.logger.Info("group network stopped")
	return nil
}

func (n *MangosNetwork) closeSockets() {
	for _, s := range []Socket{n.pub, n.sub, n.surveyor, n.respondent} {
		if s != nil {
			s.Close()
		}
	}
}

var _ Network = (*MangosNetwork)(nil)
