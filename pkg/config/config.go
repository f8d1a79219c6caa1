// Package config loads a middleware instance's cluster file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-dbcluster/pkg/balancer"
	"github.com/dd0wney/cluso-dbcluster/pkg/cluster"
	"github.com/dd0wney/cluso-dbcluster/pkg/group"
	"github.com/dd0wney/cluso-dbcluster/pkg/synchronization"
	clustertls "github.com/dd0wney/cluso-dbcluster/pkg/tls"
	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

// ErrDuplicateMember is returned when two members share an id.
var ErrDuplicateMember = cluster.ErrDuplicateMember

// State kinds.
const (
	StateLocal       = "local"
	StateDistributed = "distributed"
)

// File is the YAML cluster file.
type File struct {
	ClusterID string `yaml:"cluster_id" validate:"required,identifier"`
	// Dialect defaults to the dialect of the first member's driver.
	Dialect string   `yaml:"dialect"`
	Members []Member `yaml:"members" validate:"required,min=1,dive"`

	Balancer        string     `yaml:"balancer"`
	DefaultStrategy string     `yaml:"default_strategy"`
	Strategies      Strategies `yaml:"strategies"`

	FailureDetectInterval time.Duration `yaml:"failure_detect_interval"`
	AutoActivateInterval  time.Duration `yaml:"auto_activate_interval"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout"`
	AllowEmptyCluster     bool          `yaml:"allow_empty_cluster"`
	MaxWorkers            int           `yaml:"max_workers"`

	State State  `yaml:"state"`
	Group *Group `yaml:"group"`
	Lock  Lock   `yaml:"lock"`
	Admin Admin  `yaml:"admin"`
	// TLS secures the admin listener and tls+tcp:// group endpoints.
	TLS clustertls.Config `yaml:"tls"`
	// LogLevel overrides LOG_LEVEL when set.
	LogLevel string `yaml:"log_level"`
}

// Member is one backend database entry.
type Member struct {
	ID       string `yaml:"id" validate:"required,max=64"`
	Driver   string `yaml:"driver" validate:"required"`
	DSN      string `yaml:"dsn" validate:"required"`
	Weight   int    `yaml:"weight" validate:"gte=0"`
	Local    bool   `yaml:"local"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Strategies configures the optional synchronization strategies. Passive,
// full and diff are always available; dump-restore only when configured.
type Strategies struct {
	Full        *synchronization.FullConfig        `yaml:"full"`
	Diff        *synchronization.DiffConfig        `yaml:"diff"`
	DumpRestore *synchronization.DumpRestoreConfig `yaml:"dump_restore"`
}

// State selects the StateManager.
type State struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Group configures the mangos group network.
type Group struct {
	InstanceID        string        `yaml:"instance_id"`
	PubAddr           string        `yaml:"pub_addr"`
	SurveyAddr        string        `yaml:"survey_addr"`
	Peers             []group.Peer  `yaml:"peers" validate:"dive"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	FailureTimeout    time.Duration `yaml:"failure_timeout"`
}

// Lock configures the distributed lock manager.
type Lock struct {
	VoteTimeout time.Duration `yaml:"vote_timeout"`
}

// Admin configures the HTTP admin API. Without a JWT secret the member
// endpoints are unauthenticated.
type Admin struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// AuditBufferSize is the number of audit events served by GET /audit.
	AuditBufferSize int `yaml:"audit_buffer_size"`
	// AuditLog, when set, is a hash-chained JSONL file of every change.
	AuditLog string `yaml:"audit_log"`
}

// Load reads and validates a cluster file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a cluster file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	f.Balancer = validation.DefaultOr(f.Balancer, string(balancer.Simple))
	f.DefaultStrategy = validation.DefaultOr(f.DefaultStrategy, synchronization.DiffID)
	f.State.Kind = validation.DefaultOr(f.State.Kind, StateLocal)
	if f.Dialect == "" && len(f.Members) > 0 {
		f.Dialect = f.Members[0].Driver
	}
}

// Validate checks struct tags and cross-field rules.
func (f *File) Validate() error {
	if err := validation.Struct(f); err != nil {
		return err
	}

	kinds := make([]string, len(balancer.Kinds))
	for i, k := range balancer.Kinds {
		kinds[i] = string(k)
	}

	cv := validation.NewConfigValidator("cluster").
		Custom("members", func() error {
			seen := make(map[string]bool, len(f.Members))
			for _, m := range f.Members {
				if seen[m.ID] {
					return fmt.Errorf("%w: %s", ErrDuplicateMember, m.ID)
				}
				seen[m.ID] = true
			}
			return nil
		}).
		OneOf("balancer", f.Balancer, kinds).
		OneOf("default_strategy", f.DefaultStrategy, f.strategyIDs()).
		NonNegativeDuration("failure_detect_interval", f.FailureDetectInterval).
		NonNegativeDuration("auto_activate_interval", f.AutoActivateInterval).
		NonNegativeDuration("probe_timeout", f.ProbeTimeout).
		NonNegative("max_workers", f.MaxWorkers).
		OneOf("state.kind", f.State.Kind, []string{StateLocal, StateDistributed}).
		NonNegativeDuration("lock.vote_timeout", f.Lock.VoteTimeout).
		NonNegativeDuration("admin.token_ttl", f.Admin.TokenTTL).
		NonNegative("admin.audit_buffer_size", f.Admin.AuditBufferSize).
		When(f.LogLevel != "", func(cv *validation.ConfigValidator) {
			cv.OneOf("log_level", strings.ToLower(f.LogLevel), []string{"debug", "info", "warn", "warning", "error"})
		}).
		When(f.Admin.JWTSecret != "", func(cv *validation.ConfigValidator) {
			cv.Custom("admin.jwt_secret", func() error {
				if len(f.Admin.JWTSecret) < 32 {
					return errors.New("must be at least 32 characters")
				}
				return nil
			})
		}).
		When(f.State.Kind == StateDistributed, func(cv *validation.ConfigValidator) {
			cv.Custom("group", func() error {
				if f.Group == nil {
					return errors.New("required when state.kind is distributed")
				}
				return nil
			})
		})

	cv.Custom("tls", f.TLS.Validate)
	if f.Strategies.Full != nil {
		cv.Custom("strategies.full", f.Strategies.Full.Validate)
	}
	if f.Strategies.Diff != nil {
		cv.Custom("strategies.diff", f.Strategies.Diff.Validate)
	}
	if f.Strategies.DumpRestore != nil {
		cv.Custom("strategies.dump_restore", f.Strategies.DumpRestore.Validate)
	}
	return cv.Validate()
}

func (f *File) strategyIDs() []string {
	ids := []string{synchronization.PassiveID, synchronization.FullID, synchronization.DiffID}
	if f.Strategies.DumpRestore != nil {
		ids = append(ids, synchronization.DumpRestoreID)
	}
	return ids
}

// Distributed reports whether the instance coordinates with peers.
func (f *File) Distributed() bool {
	return f.State.Kind == StateDistributed
}
