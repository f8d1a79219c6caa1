// Package cluster presents a set of member databases as one: it activates
// and deactivates members, detects failures, and runs operations against
// the active set.
package cluster

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/balancer"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/parallel"
	"github.com/dd0wney/cluso-dbcluster/pkg/state"
)

// MemberState is a member's position in the activation state machine.
type MemberState int

const (
	StateInactive MemberState = iota
	StateActivating
	StateActive
)

func (s MemberState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Cluster is a database cluster.
//
// Concurrent Safety:
// 1. The active set lives in the balancer and changes only under the global write lock
// 2. Operations against the active set hold the global read lock
// 3. The member table is guarded by mu
// 4. Background sweeps stop on Stop and are waited for
type Cluster struct {
	config   Config
	logger   logging.Logger
	metrics  *metrics.Registry
	balancer balancer.Balancer
	locks    lock.Manager
	state    state.Manager
	pool     *parallel.WorkerPool

	mu         sync.RWMutex
	members    map[string]*member.Member
	activating map[string]bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a cluster. No member is active until Start.
func New(cfg Config) (*Cluster, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With(logging.Component("cluster"), logging.ClusterID(cfg.ID))
	pool, err := parallel.NewWorkerPool(cfg.MaxWorkers, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cluster{
		config:     cfg,
		logger:     logger,
		metrics:    cfg.Metrics,
		balancer:   cfg.Balancer,
		locks:      cfg.LockManager,
		state:      cfg.StateManager,
		pool:       pool,
		members:    make(map[string]*member.Member, len(cfg.Members)),
		activating: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, m := range cfg.Members {
		m.SetActive(false)
		c.members[m.ID] = m
	}
	c.balancer.Clear()
	c.state.Subscribe(c.applyStateEvent)
	c.updateMembershipMetrics()
	return c, nil
}

func (c *Cluster) ID() string                   { return c.config.ID }
func (c *Cluster) Balancer() balancer.Balancer  { return c.balancer }
func (c *Cluster) LockManager() lock.Manager    { return c.locks }
func (c *Cluster) StateManager() state.Manager  { return c.state }
func (c *Cluster) Connector() backend.Connector { return c.config.Connector }

// AllowsEmpty reports whether an empty active set is acceptable.
func (c *Cluster) AllowsEmpty() bool { return c.config.AllowEmptyCluster }

// Start resolves the initial active set and begins the background sweeps.
// A recorded state activates exactly the recorded members; otherwise every
// alive member is activated without synchronization.
func (c *Cluster) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrClusterStopped
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.locks.Start(); err != nil {
		return fmt.Errorf("failed to start lock manager: %w", err)
	}
	if err := c.state.Start(); err != nil {
		return fmt.Errorf("failed to start state manager: %w", err)
	}

	if err := c.resolveInitialState(ctx); err != nil {
		return err
	}

	if d := c.config.FailureDetectInterval; d > 0 {
		c.wg.Add(1)
		go c.sweepLoop(d, c.detectFailures)
	}
	if d := c.config.AutoActivateInterval; d > 0 {
		c.wg.Add(1)
		go c.sweepLoop(d, c.autoActivate)
	}

	c.logger.Info("cluster started",
		logging.Strings("active", member.IDs(c.ActiveMembers())),
		logging.Strings("inactive", member.IDs(c.InactiveMembers())))
	return nil
}

func (c *Cluster) resolveInitialState(ctx context.Context) error {
	ids, resolved, err := c.state.InitialState()
	if err != nil {
		return fmt.Errorf("failed to read initial state: %w", err)
	}

	l := c.locks.WriteLock(lock.Global)
	if err := l.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire global lock: %w", err)
	}
	defer l.Unlock()

	if resolved {
		for _, id := range ids {
			if m, ok := c.lookup(id); ok {
				c.join(m)
			}
		}
		c.logger.Info("restored recorded state", logging.Strings("members", ids))
	} else {
		for _, m := range c.Members() {
			if c.probe(ctx, m) != nil {
				continue
			}
			c.join(m)
			if err := c.state.MemberAdded(m.ID); err != nil {
				c.logger.Warn("failed to record member", logging.MemberID(m.ID), logging.Error(err))
			}
		}
	}

	if len(c.balancer.All()) == 0 && !c.config.AllowEmptyCluster {
		return ErrClusterEmpty
	}
	return nil
}

// Stop ends the background sweeps and releases the cluster's resources.
func (c *Cluster) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.pool.Close()

	var errs []error
	if c.started.Load() {
		errs = append(errs, c.state.Stop(), c.locks.Stop())
	}
	c.logger.Info("cluster stopped")
	return errors.Join(errs...)
}

func (c *Cluster) lookup(id string) (*member.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[id]
	return m, ok
}

// Member returns a configured member.
func (c *Cluster) Member(id string) (*member.Member, error) {
	m, ok := c.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	return m, nil
}

// Members returns every configured member ordered by id.
func (c *Cluster) Members() []*member.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.SortedFunc(maps.Values(c.members), func(a, b *member.Member) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// ActiveMembers returns the active set.
func (c *Cluster) ActiveMembers() []*member.Member {
	return c.balancer.All()
}

// InactiveMembers returns configured members outside the active set,
// ordered by id.
func (c *Cluster) InactiveMembers() []*member.Member {
	var out []*member.Member
	for _, m := range c.Members() {
		if !c.balancer.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// MemberState reports where a member is in the activation state machine.
func (c *Cluster) MemberState(id string) (MemberState, error) {
	m, err := c.Member(id)
	if err != nil {
		return StateInactive, err
	}
	c.mu.RLock()
	activating := c.activating[id]
	c.mu.RUnlock()
	switch {
	case activating:
		return StateActivating, nil
	case c.balancer.Contains(m):
		return StateActive, nil
	default:
		return StateInactive, nil
	}
}

// AddMember registers a new, inactive member.
func (c *Cluster) AddMember(m *member.Member) error {
	if err := m.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if _, ok := c.members[m.ID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMember, m.ID)
	}
	m.SetActive(false)
	c.members[m.ID] = m
	c.mu.Unlock()

	c.updateMembershipMetrics()
	c.logger.Info("member added", logging.MemberID(m.ID))
	return nil
}

// RemoveMember unregisters an inactive member.
func (c *Cluster) RemoveMember(ctx context.Context, id string) error {
	m, err := c.Member(id)
	if err != nil {
		return err
	}

	l := c.locks.WriteLock(lock.Global)
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock()

	c.mu.Lock()
	if c.balancer.Contains(m) || c.activating[id] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMemberActive, id)
	}
	delete(c.members, id)
	c.mu.Unlock()

	if inv, ok := c.config.Metadata.(interface{ Invalidate(string) }); ok {
		inv.Invalidate(id)
	}
	c.updateMembershipMetrics()
	c.logger.Info("member removed", logging.MemberID(id))
	return nil
}

// join adds m to the active set. Callers hold the global write lock.
func (c *Cluster) join(m *member.Member) bool {
	if !c.balancer.Add(m) {
		return false
	}
	m.SetActive(true)
	c.updateMembershipMetrics()
	return true
}

// leave removes m from the active set. Callers hold the global write lock.
func (c *Cluster) leave(m *member.Member) bool {
	if !c.balancer.Remove(m) {
		return false
	}
	m.SetActive(false)
	c.updateMembershipMetrics()
	if len(c.balancer.All()) == 0 && !c.config.AllowEmptyCluster {
		c.logger.Error("cluster has no active members", logging.MemberID(m.ID))
	}
	return true
}

func (c *Cluster) updateMembershipMetrics() {
	c.mu.RLock()
	total := len(c.members)
	c.mu.RUnlock()
	c.metrics.UpdateMembership(len(c.balancer.All()), total)
}

// applyStateEvent mirrors changes recorded by other instances. The remote
// instance holds the distributed global write lock while announcing, which
// includes this instance's local global lock.
func (c *Cluster) applyStateEvent(e state.Event) {
	m, ok := c.lookup(e.MemberID)
	if !ok {
		return
	}
	if e.Added {
		if c.join(m) {
			c.logger.Info("member activated by peer", logging.MemberID(m.ID), logging.InstanceID(e.Origin))
		}
		return
	}
	if c.leave(m) {
		c.metrics.RecordDeactivation("remote")
		c.logger.Info("member deactivated by peer", logging.MemberID(m.ID), logging.InstanceID(e.Origin))
	}
}
