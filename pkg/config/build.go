package config

import (
	"crypto/tls"
	"errors"

	"github.com/dd0wney/cluso-dbcluster/pkg/audit"
	"github.com/dd0wney/cluso-dbcluster/pkg/auth"
	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/balancer"
	"github.com/dd0wney/cluso-dbcluster/pkg/cluster"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/group"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/state"
	"github.com/dd0wney/cluso-dbcluster/pkg/synchronization"
)

// BuildMembers creates the configured members.
func (f *File) BuildMembers() ([]*member.Member, error) {
	members := make([]*member.Member, 0, len(f.Members))
	for _, mc := range f.Members {
		m, err := member.New(mc.ID, member.Source{Driver: mc.Driver, DSN: mc.DSN}, mc.Weight)
		if err != nil {
			return nil, err
		}
		m.Local = mc.Local
		m.Credentials = member.Credentials{User: mc.User, Password: mc.Password}
		members = append(members, m)
	}
	return members, nil
}

// BuildStrategies creates the strategy registry.
func (f *File) BuildStrategies() (synchronization.Strategies, error) {
	var fullCfg synchronization.FullConfig
	if f.Strategies.Full != nil {
		fullCfg = *f.Strategies.Full
	}
	full, err := synchronization.NewFull(fullCfg)
	if err != nil {
		return nil, err
	}

	var diffCfg synchronization.DiffConfig
	if f.Strategies.Diff != nil {
		diffCfg = *f.Strategies.Diff
	}
	diff, err := synchronization.NewDifferential(diffCfg)
	if err != nil {
		return nil, err
	}

	strategies := []synchronization.Strategy{synchronization.Passive{}, full, diff}
	if f.Strategies.DumpRestore != nil {
		dr, err := synchronization.NewDumpRestore(*f.Strategies.DumpRestore)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, dr)
	}
	return synchronization.NewStrategies(strategies...), nil
}

// GroupConfig returns the mangos network settings. It is only meaningful
// when Group is set.
func (f *File) GroupConfig(tlsConfig *tls.Config, logger logging.Logger, registry *metrics.Registry) group.MangosConfig {
	g := f.Group
	if g == nil {
		g = &Group{}
	}
	return group.MangosConfig{
		InstanceID:        g.InstanceID,
		PubAddr:           g.PubAddr,
		SurveyAddr:        g.SurveyAddr,
		Peers:             g.Peers,
		HeartbeatInterval: g.HeartbeatInterval,
		FailureTimeout:    g.FailureTimeout,
		TLS:               tlsConfig,
		Logger:            logger,
		Metrics:           registry,
	}
}

// Coordination holds the lock and state managers for one instance.
type Coordination struct {
	Locks lock.Manager
	State state.Manager
}

// BuildCoordination creates the lock and state managers. network is
// required when the file selects distributed state and ignored otherwise.
func (f *File) BuildCoordination(network group.Network, logger logging.Logger, registry *metrics.Registry) (Coordination, error) {
	ids := make([]string, len(f.Members))
	for i, m := range f.Members {
		ids[i] = m.ID
	}
	local, err := state.NewLocalManager(state.LocalConfig{
		ClusterID: f.ClusterID,
		Path:      f.State.Path,
		Members:   ids,
		Logger:    logger,
	})
	if err != nil {
		return Coordination{}, err
	}

	if !f.Distributed() {
		return Coordination{Locks: lock.NewLocalManager(registry), State: local}, nil
	}
	if network == nil {
		return Coordination{}, errors.New("distributed state requires a group network")
	}

	locks, err := lock.NewDistributedManager(lock.DistributedConfig{
		Network:     network,
		VoteTimeout: f.Lock.VoteTimeout,
		Logger:      logger,
		Metrics:     registry,
	})
	if err != nil {
		return Coordination{}, err
	}
	states, err := state.NewDistributedManager(state.DistributedConfig{
		Local:   local,
		Network: network,
		Timeout: f.Lock.VoteTimeout,
		Logger:  logger,
	})
	if err != nil {
		return Coordination{}, err
	}
	return Coordination{Locks: locks, State: states}, nil
}

// ClusterConfig assembles the cluster configuration.
func (f *File) ClusterConfig(connector backend.Connector, coord Coordination, logger logging.Logger, registry *metrics.Registry) (cluster.Config, error) {
	members, err := f.BuildMembers()
	if err != nil {
		return cluster.Config{}, err
	}
	strategies, err := f.BuildStrategies()
	if err != nil {
		return cluster.Config{}, err
	}
	d, err := dialect.Get(f.Dialect)
	if err != nil {
		return cluster.Config{}, err
	}
	b, err := balancer.New(balancer.Kind(f.Balancer))
	if err != nil {
		return cluster.Config{}, err
	}

	return cluster.Config{
		ID:                    f.ClusterID,
		Members:               members,
		Connector:             connector,
		Dialect:               d,
		Balancer:              b,
		Strategies:            strategies,
		DefaultStrategy:       f.DefaultStrategy,
		LockManager:           coord.Locks,
		StateManager:          coord.State,
		FailureDetectInterval: f.FailureDetectInterval,
		AutoActivateInterval:  f.AutoActivateInterval,
		ProbeTimeout:          f.ProbeTimeout,
		AllowEmptyCluster:     f.AllowEmptyCluster,
		MaxWorkers:            f.MaxWorkers,
		Logger:                logger,
		Metrics:               registry,
	}, nil
}

// AuditTrail opens the admin audit trail.
func (f *File) AuditTrail() (*audit.Trail, error) {
	return audit.NewTrail(f.Admin.AuditBufferSize, f.Admin.AuditLog)
}

// Authenticator returns the admin token manager, or nil when the admin API
// is unauthenticated.
func (f *File) Authenticator() (*auth.JWTManager, error) {
	if f.Admin.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewJWTManager(f.Admin.JWTSecret, f.ClusterID, f.Admin.TokenTTL)
}
