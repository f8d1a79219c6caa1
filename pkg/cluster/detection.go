package cluster

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// sweepLoop runs sweep every interval until the cluster stops.
func (c *Cluster) sweepLoop(interval time.Duration, sweep func(ctx context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			sweep(c.ctx)
		}
	}
}

// probeAll probes members concurrently and returns those whose probe result
// equals alive.
func (c *Cluster) probeAll(ctx context.Context, members []*member.Member, alive bool) []*member.Member {
	var (
		mu  sync.Mutex
		out []*member.Member
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxWorkers)
	for _, m := range members {
		g.Go(func() error {
			if (c.probe(ctx, m) == nil) == alive {
				mu.Lock()
				out = append(out, m)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return out
}

// detectFailures deactivates active members that fail a liveness probe.
func (c *Cluster) detectFailures(ctx context.Context) {
	defer c.metrics.RecordFailureDetection()

	for _, m := range c.probeAll(ctx, c.ActiveMembers(), false) {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.deactivate(ctx, m, "failure_detection"); err != nil {
			c.logger.Error("failed to deactivate member", logging.MemberID(m.ID), logging.Error(err))
		}
	}
}

// autoActivate activates inactive members that answer a liveness probe.
func (c *Cluster) autoActivate(ctx context.Context) {
	for _, m := range c.probeAll(ctx, c.InactiveMembers(), true) {
		if ctx.Err() != nil {
			return
		}
		if err := c.Activate(ctx, m.ID, c.config.DefaultStrategy); err != nil {
			c.logger.Warn("auto-activation failed", logging.MemberID(m.ID), logging.Error(err))
		}
	}
}
