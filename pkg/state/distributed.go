package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/group"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

const (
	snapshotType = "state.snapshot"
	noticeType   = "state.notice"
)

// Snapshot is an instance's recorded active set.
type Snapshot struct {
	Members  []string `json:"members,omitempty"`
	Resolved bool     `json:"resolved"`
}

// Notice announces one change.
type Notice struct {
	MemberID string `json:"member_id"`
	Added    bool   `json:"added"`
	// At orders notices about the same member.
	At int64 `json:"at"`
}

// DistributedConfig configures a DistributedManager.
type DistributedConfig struct {
	Local   *LocalManager
	Network group.Network
	// Timeout bounds the startup snapshot request and notice broadcasts.
	Timeout  time.Duration
	Logger   logging.Logger
	Listener Listener
}

// DistributedManager replicates the recorded active set across the group.
// Every instance keeps its own local record; notices converge them with the
// latest notice per member id winning.
type DistributedManager struct {
	local     *LocalManager
	network   group.Network
	timeout   time.Duration
	logger    logging.Logger
	listeners listeners
	now       func() time.Time

	startOnce sync.Once

	mu      sync.Mutex
	latest  map[string]int64
	stopped bool
}

// NewDistributedManager wraps local with group replication.
func NewDistributedManager(cfg DistributedConfig) (*DistributedManager, error) {
	if err := validation.NewConfigValidator("state").
		Custom("local", func() error {
			if cfg.Local == nil {
				return errors.New("is required")
			}
			return nil
		}).
		Custom("network", func() error {
			if cfg.Network == nil {
				return errors.New("is required")
			}
			return nil
		}).
		NonNegativeDuration("timeout", cfg.Timeout).
		Validate(); err != nil {
		return nil, err
	}
	m := &DistributedManager{
		local:   cfg.Local,
		network: cfg.Network,
		timeout: validation.DefaultOr(cfg.Timeout, 5*time.Second),
		logger:  logging.OrNop(cfg.Logger).With(logging.Component("state"), logging.InstanceID(cfg.Network.LocalID())),
		now:     time.Now,
		latest:  make(map[string]int64),
	}
	m.listeners.add(cfg.Listener)
	return m, nil
}

// Start registers the snapshot and notice handlers. Repeated calls are
// no-ops.
func (m *DistributedManager) Start() error {
	m.startOnce.Do(func() {
		m.network.Handle(snapshotType, m.handleSnapshot)
		m.network.Handle(noticeType, m.handleNotice)
	})
	return m.local.Start()
}

func (m *DistributedManager) Stop() error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return m.local.Stop()
}

// InitialState prefers the local record. When it is unresolved the group
// coordinator's snapshot is adopted and recorded locally.
func (m *DistributedManager) InitialState() ([]string, bool, error) {
	ids, ok, err := m.local.InitialState()
	if err != nil || ok {
		return ids, ok, err
	}

	coordinator := m.network.Coordinator()
	if coordinator == "" || coordinator == m.network.LocalID() {
		return nil, false, nil
	}

	snap, err := m.requestSnapshot(coordinator)
	if err != nil {
		m.logger.Warn("failed to obtain state from coordinator",
			logging.InstanceID(coordinator), logging.Error(err))
		return nil, false, nil
	}
	if !snap.Resolved {
		return nil, false, nil
	}
	if err := m.local.Replace(snap.Members); err != nil {
		return nil, false, err
	}
	m.logger.Info("adopted state from coordinator",
		logging.InstanceID(coordinator), logging.Strings("members", snap.Members))
	return m.local.InitialState()
}

func (m *DistributedManager) requestSnapshot(coordinator string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	msg, err := group.NewMessage(snapshotType, nil)
	if err != nil {
		return Snapshot{}, err
	}
	// Other members may time out; only the coordinator's answer matters.
	replies, surveyErr := m.network.Survey(ctx, msg)
	for _, r := range replies {
		if r.From != coordinator {
			continue
		}
		if r.Error != "" {
			return Snapshot{}, errors.New(r.Error)
		}
		var snap Snapshot
		if err := r.Decode(&snap); err != nil {
			return Snapshot{}, err
		}
		return snap, nil
	}
	if surveyErr != nil {
		return Snapshot{}, surveyErr
	}
	return Snapshot{}, fmt.Errorf("no reply from %s", coordinator)
}

func (m *DistributedManager) MemberAdded(id string) error {
	return m.record(Notice{MemberID: id, Added: true, At: m.now().UnixNano()})
}

func (m *DistributedManager) MemberRemoved(id string) error {
	return m.record(Notice{MemberID: id, Added: false, At: m.now().UnixNano()})
}

// record applies a local change and announces it.
func (m *DistributedManager) record(n Notice) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.latest[n.MemberID] = n.At
	m.mu.Unlock()

	if err := m.local.apply(n.MemberID, n.Added); err != nil {
		return err
	}
	m.listeners.notify(Event{MemberID: n.MemberID, Added: n.Added, Origin: m.network.LocalID()})

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	msg, err := group.NewMessage(noticeType, n)
	if err != nil {
		return err
	}
	if err := m.network.Broadcast(ctx, msg); err != nil {
		return fmt.Errorf("failed to broadcast state notice: %w", err)
	}
	return nil
}

// Subscribe registers a listener for local and remote changes.
func (m *DistributedManager) Subscribe(l Listener) { m.listeners.add(l) }

func (m *DistributedManager) handleSnapshot(ctx context.Context, msg group.Message) (any, error) {
	ids, ok, err := m.local.InitialState()
	if err != nil {
		return nil, err
	}
	return Snapshot{Members: ids, Resolved: ok}, nil
}

func (m *DistributedManager) handleNotice(ctx context.Context, msg group.Message) (any, error) {
	var n Notice
	if err := msg.Decode(&n); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.stopped || n.At < m.latest[n.MemberID] {
		m.mu.Unlock()
		m.logger.Debug("ignoring stale state notice", logging.MemberID(n.MemberID), logging.InstanceID(msg.From))
		return nil, nil
	}
	m.latest[n.MemberID] = n.At
	m.mu.Unlock()

	if err := m.local.apply(n.MemberID, n.Added); err != nil {
		m.logger.Error("failed to record state notice", logging.MemberID(n.MemberID), logging.Error(err))
		return nil, err
	}
	m.listeners.notify(Event{MemberID: n.MemberID, Added: n.Added, Origin: msg.From})
	return nil, nil
}

var _ Manager = (*DistributedManager)(nil)
