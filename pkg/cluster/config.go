package cluster

import (
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/balancer"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
	"github.com/dd0wney/cluso-dbcluster/pkg/state"
	"github.com/dd0wney/cluso-dbcluster/pkg/synchronization"
	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

const (
	DefaultMaxWorkers   = 10
	DefaultProbeTimeout = 5 * time.Second
)

// Config defines a database cluster.
type Config struct {
	ID      string
	Members []*member.Member

	Connector backend.Connector
	Dialect   dialect.Dialect
	// Metadata defaults to a lazy cache over the dialect's metadata queries.
	Metadata schema.Cache
	// Balancer defaults to balancer.Simple.
	Balancer balancer.Balancer

	// Strategies defaults to synchronization.DefaultStrategies.
	Strategies synchronization.Strategies
	// DefaultStrategy is used by auto-activation and by Activate with an
	// empty strategy id.
	DefaultStrategy string

	// LockManager defaults to a lock.LocalManager.
	LockManager  lock.Manager
	StateManager state.Manager

	// FailureDetectInterval and AutoActivateInterval schedule the background
	// sweeps; zero disables a sweep.
	FailureDetectInterval time.Duration
	AutoActivateInterval  time.Duration
	ProbeTimeout          time.Duration

	// AllowEmptyCluster lets writes succeed with no active members.
	AllowEmptyCluster bool
	MaxWorkers        int

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Validate checks the configuration. Call it after defaults are applied.
func (c *Config) Validate() error {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != nil {
			ids = append(ids, m.ID)
		}
	}

	return validation.NewConfigValidator("cluster").
		Required("id", c.ID).
		Custom("members", func() error {
			if len(c.Members) == 0 {
				return errors.New("at least one member is required")
			}
			for i, m := range c.Members {
				if m == nil {
					return fmt.Errorf("member %d is nil", i)
				}
				if err := m.Validate(); err != nil {
					return err
				}
			}
			return nil
		}).
		Custom("members", func() error {
			seen := make(map[string]bool, len(ids))
			for _, id := range ids {
				if seen[id] {
					return fmt.Errorf("%w: %s", ErrDuplicateMember, id)
				}
				seen[id] = true
			}
			return nil
		}).
		Custom("connector", func() error { return required(c.Connector != nil) }).
		Custom("dialect", func() error { return required(c.Dialect != nil) }).
		Custom("state_manager", func() error { return required(c.StateManager != nil) }).
		Custom("default_strategy", func() error {
			_, err := c.Strategies.Get(c.DefaultStrategy)
			return err
		}).
		NonNegativeDuration("failure_detect_interval", c.FailureDetectInterval).
		NonNegativeDuration("auto_activate_interval", c.AutoActivateInterval).
		NonNegativeDuration("probe_timeout", c.ProbeTimeout).
		NonNegative("max_workers", c.MaxWorkers).
		Validate()
}

func required(ok bool) error {
	if !ok {
		return errors.New("is required")
	}
	return nil
}

// applyDefaults fills unset collaborators.
func (c *Config) applyDefaults() error {
	c.Logger = logging.OrNop(c.Logger)
	c.Metrics = metrics.OrDefault(c.Metrics)
	c.MaxWorkers = validation.DefaultOr(c.MaxWorkers, DefaultMaxWorkers)
	c.ProbeTimeout = validation.DefaultOr(c.ProbeTimeout, DefaultProbeTimeout)
	if c.Strategies == nil {
		c.Strategies = synchronization.DefaultStrategies()
	}
	c.DefaultStrategy = validation.DefaultOr(c.DefaultStrategy, synchronization.DiffID)
	if c.Balancer == nil {
		b, err := balancer.New(balancer.Simple)
		if err != nil {
			return err
		}
		c.Balancer = b
	}
	if c.LockManager == nil {
		c.LockManager = lock.NewLocalManager(c.Metrics)
	}
	if c.Metadata == nil && c.Dialect != nil {
		c.Metadata = schema.NewLazyCache(schema.NewQueryLoader(c.Dialect.MetadataQueries()), c.Logger)
	}
	return nil
}
