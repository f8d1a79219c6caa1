package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// Operation runs against one member on a connection it owns for the call.
type Operation[T any] func(ctx context.Context, m *member.Member, conn backend.Conn) (T, error)

type outcome[T any] struct {
	member *member.Member
	value  T
	err    error
}

// Execute runs op against every active member concurrently and returns the
// results keyed by member id.
//
// A member whose operation fails is probed. If it is down it is deactivated
// and its failure is suppressed; if it is alive its error is returned as a
// *MemberError alongside the other members' results. When no member
// succeeds and at least one was deactivated the error is ErrNoActiveMembers.
func Execute[T any](ctx context.Context, c *Cluster, op Operation[T]) (map[string]T, error) {
	outcomes, err := runOnActiveSet(ctx, c, op)
	if err != nil {
		c.metrics.RecordFanout("error")
		return nil, err
	}

	results := make(map[string]T, len(outcomes))
	var (
		propagated  []error
		deactivated int
	)
	for _, o := range outcomes {
		if o.err == nil {
			results[o.member.ID] = o.value
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			propagated = append(propagated, &MemberError{MemberID: o.member.ID, Err: o.err})
			continue
		}
		if c.handleMemberFailure(ctx, o.member, o.err) {
			deactivated++
			continue
		}
		propagated = append(propagated, &MemberError{MemberID: o.member.ID, Err: o.err})
	}

	switch {
	case len(results) == 0 && deactivated > 0:
		c.metrics.RecordFanout("error")
		err := ErrNoActiveMembers
		if len(c.balancer.All()) == 0 && !c.config.AllowEmptyCluster {
			err = fmt.Errorf("%w: %w", ErrNoActiveMembers, ErrClusterEmpty)
		}
		return results, errors.Join(append([]error{err}, propagated...)...)
	case len(propagated) > 0:
		c.metrics.RecordFanout("error")
		return results, errors.Join(propagated...)
	case deactivated > 0:
		c.metrics.RecordFanout("partial")
	default:
		c.metrics.RecordFanout("success")
	}
	return results, nil
}

// runOnActiveSet snapshots the active set and runs op on each member under
// the global read lock. The lock is released before returning.
func runOnActiveSet[T any](ctx context.Context, c *Cluster, op Operation[T]) ([]outcome[T], error) {
	if c.stopped.Load() {
		return nil, ErrClusterStopped
	}

	l := c.locks.ReadLock(lock.Global)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	defer l.Unlock()

	members := c.balancer.All()
	if len(members) == 0 {
		if c.config.AllowEmptyCluster {
			return nil, nil
		}
		return nil, ErrClusterEmpty
	}

	pending := make([]<-chan error, len(members))
	outcomes := make([]outcome[T], len(members))
	for i, m := range members {
		outcomes[i].member = m
		pending[i] = c.pool.Go(func() error {
			v, err := runOn(ctx, c, m, op)
			outcomes[i].value = v
			return err
		})
	}
	for i, ch := range pending {
		outcomes[i].err = <-ch
	}
	return outcomes, nil
}

func runOn[T any](ctx context.Context, c *Cluster, m *member.Member, op Operation[T]) (T, error) {
	var zero T
	conn, err := c.config.Connector.Connect(ctx, m)
	if err != nil {
		return zero, err
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return op(ctx, m, conn)
}

// handleMemberFailure probes m after a failed operation and deactivates it
// when it is down. It reports whether the failure was absorbed.
func (c *Cluster) handleMemberFailure(ctx context.Context, m *member.Member, opErr error) bool {
	if c.probe(ctx, m) == nil {
		c.metrics.RecordFanoutFailure("propagated")
		return false
	}
	c.logger.Warn("member failed and is not alive",
		logging.MemberID(m.ID), logging.Error(opErr))
	if _, err := c.deactivate(context.WithoutCancel(ctx), m, "fanout"); err != nil {
		c.logger.Error("failed to deactivate member", logging.MemberID(m.ID), logging.Error(err))
	}
	c.metrics.RecordFanoutFailure("deactivated")
	return true
}

// ExecuteWrite runs one statement on every active member and returns the
// affected row counts.
func ExecuteWrite(ctx context.Context, c *Cluster, sql string, args ...any) (map[string]int64, error) {
	return Execute(ctx, c, func(ctx context.Context, _ *member.Member, conn backend.Conn) (int64, error) {
		return conn.Exec(ctx, sql, args...)
	})
}

// ExecuteRead runs op on the member chosen by the balancer. A member that
// fails and is down is deactivated and the next member is tried.
func ExecuteRead[T any](ctx context.Context, c *Cluster, op Operation[T]) (T, error) {
	var zero T
	tried := make(map[string]bool)
	for {
		m, v, err := readOnce(ctx, c, op, tried)
		if err != nil || m == nil {
			return zero, err
		}
		if v.err == nil {
			return v.value, nil
		}
		tried[m.ID] = true
		if ctx.Err() != nil || !c.handleMemberFailure(ctx, m, v.err) {
			return zero, &MemberError{MemberID: m.ID, Err: v.err}
		}
	}
}

func readOnce[T any](ctx context.Context, c *Cluster, op Operation[T], tried map[string]bool) (*member.Member, outcome[T], error) {
	var o outcome[T]
	if c.stopped.Load() {
		return nil, o, ErrClusterStopped
	}

	l := c.locks.ReadLock(lock.Global)
	if err := l.Lock(ctx); err != nil {
		return nil, o, err
	}
	defer l.Unlock()

	m, ok := c.balancer.Next()
	if !ok {
		if len(tried) == 0 && !c.config.AllowEmptyCluster {
			return nil, o, ErrClusterEmpty
		}
		return nil, o, ErrNoActiveMembers
	}
	if tried[m.ID] {
		return nil, o, ErrNoActiveMembers
	}
	o.member = m
	o.value, o.err = runOn(ctx, c, m, op)
	return m, o, nil
}
