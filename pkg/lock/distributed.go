package lock

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dbcluster/pkg/group"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

const (
	prepareType = "lock.prepare"
	commitType  = "lock.commit"
	abortType   = "lock.abort"
	releaseType = "lock.release"
)

// DecreeType is what a decree asks for.
type DecreeType string

const (
	Acquire DecreeType = "acquire"
	Release DecreeType = "release"
)

// Decree is a request concerning a named write lock, tagged with the
// instance that made it.
type Decree struct {
	ID        string     `json:"id"`
	Type      DecreeType `json:"type"`
	Resource  string     `json:"resource"`
	Requester string     `json:"requester"`
}

// Vote is an instance's answer to a prepare request.
type Vote struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// RoundState is the state of one vote round.
type RoundState int

const (
	StateIdle RoundState = iota
	StatePreparing
	StatePrepared
	StateCommitted
	StateAborted
)

func (s RoundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DistributedConfig configures a DistributedManager.
type DistributedConfig struct {
	Network group.Network
	// VoteTimeout bounds one prepare round.
	VoteTimeout time.Duration
	// PrepareTimeout is how long a voter waits for its local lock before
	// denying. Defaults to half of VoteTimeout.
	PrepareTimeout time.Duration
	Logger         logging.Logger
	Metrics        *metrics.Registry
}

// held is a lock taken locally on behalf of a remote requester.
type held struct {
	decree Decree
	lock   Lock
	state  RoundState
}

// DistributedManager confirms write locks with every instance of the group.
// Read locks stay local.
type DistributedManager struct {
	config  DistributedConfig
	local   *LocalManager
	network group.Network
	logger  logging.Logger
	metrics *metrics.Registry

	startOnce sync.Once

	mu      sync.Mutex
	held    map[string]*held
	aborted map[string]time.Time
	stopped bool
}

// NewDistributedManager creates a manager on top of network.
func NewDistributedManager(cfg DistributedConfig) (*DistributedManager, error) {
	if err := validation.NewConfigValidator("lock").
		Custom("network", func() error {
			if cfg.Network == nil {
				return errors.New("is required")
			}
			return nil
		}).
		NonNegativeDuration("vote_timeout", cfg.VoteTimeout).
		NonNegativeDuration("prepare_timeout", cfg.PrepareTimeout).
		Validate(); err != nil {
		return nil, err
	}
	cfg.VoteTimeout = validation.DefaultOr(cfg.VoteTimeout, 5*time.Second)
	cfg.PrepareTimeout = validation.DefaultOr(cfg.PrepareTimeout, cfg.VoteTimeout/2)

	registry := metrics.OrDefault(cfg.Metrics)
	return &DistributedManager{
		config:  cfg,
		local:   NewLocalManager(registry),
		network: cfg.Network,
		logger:  logging.OrNop(cfg.Logger).With(logging.Component("lock"), logging.InstanceID(cfg.Network.LocalID())),
		metrics: registry,
		held:    make(map[string]*held),
		aborted: make(map[string]time.Time),
	}, nil
}

// Start registers the vote handlers with the network. Repeated calls are
// no-ops.
func (m *DistributedManager) Start() error {
	m.startOnce.Do(func() {
		m.network.Handle(prepareType, m.handlePrepare)
		m.network.Handle(commitType, m.handleCommit)
		m.network.Handle(abortType, m.handleFinish)
		m.network.Handle(releaseType, m.handleFinish)
		m.network.OnViewChange(m.handleViewChange)
	})
	return nil
}

// Stop releases every lock held for remote requesters.
func (m *DistributedManager) Stop() error {
	m.mu.Lock()
	m.stopped = true
	entries := m.held
	m.held = make(map[string]*held)
	m.mu.Unlock()

	for _, h := range entries {
		h.lock.Unlock()
	}
	return nil
}

func (m *DistributedManager) ReadLock(resource string) Lock {
	return m.local.ReadLock(resource)
}

func (m *DistributedManager) WriteLock(resource string) Lock {
	return &distributedLock{manager: m, local: m.local.WriteLock(resource), resource: resource}
}

// Held returns the decrees this instance currently holds locks for.
func (m *DistributedManager) Held() []Decree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Decree, 0, len(m.held))
	for _, h := range m.held {
		out = append(out, h.decree)
	}
	slices.SortFunc(out, func(a, b Decree) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// vote runs one prepare round and finishes it with commit or abort.
func (m *DistributedManager) vote(ctx context.Context, d Decree) (RoundState, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.VoteTimeout)
	defer cancel()

	msg, err := group.NewMessage(prepareType, d)
	if err != nil {
		return StateAborted, err
	}
	replies, err := m.network.Survey(ctx, msg)

	var voteErr error
	switch {
	case errors.Is(err, group.ErrSurveyIncomplete):
		voteErr = fmt.Errorf("%w: %w", ErrVoteTimeout, err)
	case err != nil:
		voteErr = err
	default:
		for _, r := range replies {
			var v Vote
			if r.Error != "" {
				voteErr = fmt.Errorf("%w by %s: %s", ErrVoteRejected, r.From, r.Error)
				break
			}
			if err := r.Decode(&v); err != nil {
				voteErr = fmt.Errorf("%w by %s: %w", ErrVoteRejected, r.From, err)
				break
			}
			if !v.Granted {
				voteErr = fmt.Errorf("%w by %s: %s", ErrVoteRejected, r.From, v.Reason)
				break
			}
		}
	}

	finish := commitType
	state := StateCommitted
	if voteErr != nil {
		finish = abortType
		state = StateAborted
	}
	if err := m.send(finish, d); err != nil {
		m.logger.Warn("failed to broadcast vote outcome",
			logging.String("outcome", finish), logging.Resource(d.Resource), logging.Error(err))
	}
	m.metrics.RecordVote(state.String())
	return state, voteErr
}

// send broadcasts a decree without the caller's cancellation.
func (m *DistributedManager) send(msgType string, d Decree) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.VoteTimeout)
	defer cancel()
	msg, err := group.NewMessage(msgType, d)
	if err != nil {
		return err
	}
	return m.network.Broadcast(ctx, msg)
}

func (m *DistributedManager) handlePrepare(ctx context.Context, msg group.Message) (any, error) {
	var d Decree
	if err := msg.Decode(&d); err != nil {
		return nil, err
	}

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return Vote{Reason: ErrStopped.Error()}, nil
	}

	l := m.local.WriteLock(d.Resource)
	if !l.TryLockTimeout(m.config.PrepareTimeout) {
		m.logger.Debug("denying lock", logging.Resource(d.Resource), logging.InstanceID(d.Requester))
		return Vote{Reason: "resource busy"}, nil
	}

	m.mu.Lock()
	_, abandoned := m.aborted[d.ID]
	if abandoned || m.stopped {
		delete(m.aborted, d.ID)
		m.mu.Unlock()
		l.Unlock()
		return Vote{Reason: "round already finished"}, nil
	}
	m.held[d.ID] = &held{decree: d, lock: l, state: StatePrepared}
	m.mu.Unlock()
	return Vote{Granted: true}, nil
}

func (m *DistributedManager) handleCommit(ctx context.Context, msg group.Message) (any, error) {
	var d Decree
	if err := msg.Decode(&d); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.held[d.ID]; ok {
		h.state = StateCommitted
	}
	return nil, nil
}

// handleFinish releases a lock on abort or release.
func (m *DistributedManager) handleFinish(ctx context.Context, msg group.Message) (any, error) {
	var d Decree
	if err := msg.Decode(&d); err != nil {
		return nil, err
	}
	m.mu.Lock()
	h, ok := m.held[d.ID]
	if ok {
		delete(m.held, d.ID)
	} else if msg.Type == abortType {
		// The prepare may still be waiting on the local lock.
		m.pruneAbortedLocked()
		m.aborted[d.ID] = time.Now()
	}
	m.mu.Unlock()

	if ok {
		h.lock.Unlock()
	}
	return nil, nil
}

func (m *DistributedManager) pruneAbortedLocked() {
	cutoff := time.Now().Add(-2 * m.config.VoteTimeout)
	for id, at := range m.aborted {
		if at.Before(cutoff) {
			delete(m.aborted, id)
		}
	}
}

func (m *DistributedManager) handleViewChange(v group.View) {
	if len(v.Left) == 0 {
		return
	}
	m.mu.Lock()
	var released []*held
	for id, h := range m.held {
		if slices.Contains(v.Left, h.decree.Requester) {
			released = append(released, h)
			delete(m.held, id)
		}
	}
	m.mu.Unlock()

	for _, h := range released {
		m.logger.Warn("force-releasing lock held by departed instance",
			logging.Resource(h.decree.Resource), logging.InstanceID(h.decree.Requester))
		h.lock.Unlock()
	}
}

// distributedLock is a write lock confirmed by the whole group.
type distributedLock struct {
	manager  *DistributedManager
	local    Lock
	resource string

	mu     sync.Mutex
	state  RoundState
	decree Decree
}

// State returns the state of the handle's latest round.
func (l *distributedLock) State() RoundState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *distributedLock) setState(s RoundState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *distributedLock) Lock(ctx context.Context) error {
	if err := l.local.Lock(ctx); err != nil {
		return err
	}
	return l.confirm(ctx)
}

func (l *distributedLock) TryLock() bool {
	if !l.local.TryLock() {
		return false
	}
	return l.confirm(context.Background()) == nil
}

func (l *distributedLock) TryLockTimeout(d time.Duration) bool {
	return tryLockTimeout(l, d)
}

// confirm runs the vote while the local lock is held.
func (l *distributedLock) confirm(ctx context.Context) error {
	m := l.manager
	d := Decree{
		ID:        uuid.NewString(),
		Type:      Acquire,
		Resource:  l.resource,
		Requester: m.network.LocalID(),
	}
	l.mu.Lock()
	l.decree = d
	l.state = StatePreparing
	l.mu.Unlock()

	state, err := m.vote(ctx, d)
	l.setState(state)
	if err != nil {
		l.local.Unlock()
		m.logger.Info("distributed lock aborted", logging.Resource(l.resource), logging.Error(err))
		return err
	}
	return nil
}

func (l *distributedLock) Unlock() {
	l.mu.Lock()
	d := l.decree
	l.state = StateIdle
	l.mu.Unlock()

	d.Type = Release
	if err := l.manager.send(releaseType, d); err != nil {
		l.manager.logger.Warn("failed to broadcast lock release", logging.Resource(l.resource), logging.Error(err))
	}
	l.local.Unlock()
}

var _ Manager = (*DistributedManager)(nil)
