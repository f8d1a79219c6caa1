package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/synchronization"
)

// Activate synchronizes an inactive member from the active set and adds it.
// An empty strategyID selects the default strategy. Activation is all or
// nothing: on error the member stays inactive and the active set is
// unchanged.
func (c *Cluster) Activate(ctx context.Context, memberID, strategyID string) error {
	m, err := c.Member(memberID)
	if err != nil {
		return err
	}
	if strategyID == "" {
		strategyID = c.config.DefaultStrategy
	}
	strategy, err := c.config.Strategies.Get(strategyID)
	if err != nil {
		return err
	}
	if c.balancer.Contains(m) {
		return nil
	}

	start := time.Now()
	if err := c.probe(ctx, m); err != nil {
		c.metrics.RecordActivation(strategyID, "not_alive", time.Since(start))
		return fmt.Errorf("%w: %s: %w", ErrMemberNotAlive, memberID, err)
	}

	l := c.locks.WriteLock(lock.Global)
	if err := l.Lock(ctx); err != nil {
		c.metrics.RecordActivation(strategyID, "lock_failed", time.Since(start))
		return fmt.Errorf("failed to acquire global lock: %w", err)
	}
	defer l.Unlock()

	if c.balancer.Contains(m) {
		return nil
	}

	c.setActivating(memberID, true)
	defer c.setActivating(memberID, false)

	op := logging.StartTimer(c.logger, "activating member",
		logging.MemberID(memberID), logging.Strategy(strategyID))

	if err := c.synchronize(ctx, m, strategy); err != nil {
		op.EndError(err)
		c.metrics.RecordActivation(strategyID, "error", time.Since(start))
		return fmt.Errorf("failed to activate %s: %w", memberID, err)
	}

	c.join(m)
	if err := c.state.MemberAdded(memberID); err != nil {
		c.logger.Warn("failed to record activation", logging.MemberID(memberID), logging.Error(err))
	}
	op.End(logging.Int("active", len(c.balancer.All())))
	c.metrics.RecordActivation(strategyID, "success", time.Since(start))
	return nil
}

// synchronize brings target in line with a member of the active set. With
// nothing active there is nothing to synchronize from.
func (c *Cluster) synchronize(ctx context.Context, target *member.Member, strategy synchronization.Strategy) error {
	source, ok := c.balancer.Next()
	if !ok {
		c.logger.Warn("activating into an empty cluster without synchronization", logging.MemberID(target.ID))
		return nil
	}

	start := time.Now()
	sc, err := synchronization.NewContext(ctx, synchronization.ContextConfig{
		Source:        source,
		Target:        target,
		ActiveMembers: c.balancer.All(),
		Connector:     c.config.Connector,
		Dialect:       c.config.Dialect,
		Metadata:      c.config.Metadata,
		Workers:       c.config.MaxWorkers,
		Logger:        c.logger,
		Metrics:       c.metrics,
	})
	if err != nil {
		c.metrics.RecordSync(strategy.ID(), err, time.Since(start))
		return err
	}
	defer sc.Close(context.WithoutCancel(ctx))

	err = strategy.Synchronize(ctx, sc)
	c.metrics.RecordSync(strategy.ID(), err, time.Since(start))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	total := sc.TotalStats()
	c.logger.Info("member synchronized",
		logging.MemberID(target.ID),
		logging.String("source", source.ID),
		logging.Strategy(strategy.ID()),
		logging.Int("inserted", total.Inserted),
		logging.Int("updated", total.Updated),
		logging.Int("deleted", total.Deleted))
	return nil
}

func (c *Cluster) setActivating(id string, activating bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if activating {
		c.activating[id] = true
	} else {
		delete(c.activating, id)
	}
}

// Deactivate removes a member from the active set. Deactivating an inactive
// member is a no-op.
func (c *Cluster) Deactivate(ctx context.Context, memberID string) error {
	m, err := c.Member(memberID)
	if err != nil {
		return err
	}
	_, err = c.deactivate(ctx, m, "operator")
	return err
}

// deactivate takes the global write lock and removes m.
func (c *Cluster) deactivate(ctx context.Context, m *member.Member, reason string) (bool, error) {
	l := c.locks.WriteLock(lock.Global)
	if err := l.Lock(ctx); err != nil {
		return false, fmt.Errorf("failed to acquire global lock: %w", err)
	}
	defer l.Unlock()

	if !c.leave(m) {
		return false, nil
	}
	if err := c.state.MemberRemoved(m.ID); err != nil {
		c.logger.Warn("failed to record deactivation", logging.MemberID(m.ID), logging.Error(err))
	}
	c.metrics.RecordDeactivation(reason)
	c.logger.Warn("member deactivated", logging.MemberID(m.ID), logging.String("reason", reason))
	return true, nil
}

// IsAlive probes a member.
func (c *Cluster) IsAlive(ctx context.Context, memberID string) bool {
	return c.Probe(ctx, memberID) == nil
}

// Probe runs the liveness probe against a member and returns its failure.
func (c *Cluster) Probe(ctx context.Context, memberID string) error {
	m, err := c.Member(memberID)
	if err != nil {
		return err
	}
	return c.probe(ctx, m)
}

// probe opens a connection, runs the dialect's trivial statement and closes
// the connection.
func (c *Cluster) probe(ctx context.Context, m *member.Member) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()
	defer func() {
		c.metrics.RecordProbe(err == nil)
		if err != nil {
			c.logger.Debug("liveness probe failed", logging.MemberID(m.ID), logging.Error(err))
		}
	}()

	conn, err := c.config.Connector.Connect(ctx, m)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	_, err = backend.Scan(ctx, conn, c.config.Dialect.ProbeSQL())
	return err
}
