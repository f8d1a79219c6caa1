package synchronization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/parallel"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// ContextConfig holds what a synchronization attempt needs.
type ContextConfig struct {
	Source *member.Member
	Target *member.Member
	// ActiveMembers is the active set when the attempt starts.
	ActiveMembers []*member.Member
	Connector     backend.Connector
	Dialect       dialect.Dialect
	Metadata      schema.Cache
	// Workers bounds the attempt's worker pool.
	Workers int
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// TableStats counts the rows a strategy changed in one table.
type TableStats struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Changes returns the total number of changed rows.
func (s TableStats) Changes() int {
	return s.Inserted + s.Updated + s.Deleted
}

// Context is the state of one synchronization attempt: live connections to
// source and target, both members' metadata, an active set snapshot and a
// bounded worker pool. Close releases all of it.
type Context struct {
	source, target         *member.Member
	sourceConn, targetConn backend.Conn
	sourceProps            *schema.Properties
	targetProps            *schema.Properties
	active                 []*member.Member
	connector              backend.Connector
	dialect                dialect.Dialect
	pool                   *parallel.WorkerPool
	logger                 logging.Logger
	metrics                *metrics.Registry

	mu      sync.Mutex
	conns   []backend.Conn
	stats   map[string]TableStats
	dropped dropped
}

// NewContext connects to source and target and loads their metadata. On
// error everything acquired so far is released.
func NewContext(ctx context.Context, cfg ContextConfig) (sc *Context, err error) {
	if cfg.Source == nil || cfg.Target == nil {
		return nil, errors.New("source and target are required")
	}
	if cfg.Connector == nil || cfg.Dialect == nil || cfg.Metadata == nil {
		return nil, errors.New("connector, dialect and metadata cache are required")
	}

	logger := logging.OrNop(cfg.Logger).With(
		logging.Component("synchronization"),
		logging.String("source", cfg.Source.ID),
		logging.String("target", cfg.Target.ID))

	pool, err := parallel.NewWorkerPool(cfg.Workers, logger)
	if err != nil {
		return nil, err
	}

	sc = &Context{
		source:    cfg.Source,
		target:    cfg.Target,
		active:    append([]*member.Member(nil), cfg.ActiveMembers...),
		connector: cfg.Connector,
		dialect:   cfg.Dialect,
		pool:      pool,
		logger:    logger,
		metrics:   metrics.OrDefault(cfg.Metrics),
		stats:     make(map[string]TableStats),
	}
	defer func() {
		if err != nil {
			sc.Close(context.WithoutCancel(ctx))
			sc = nil
		}
	}()

	if sc.sourceConn, err = sc.Connect(ctx, cfg.Source); err != nil {
		return sc, fmt.Errorf("failed to connect to source %s: %w", cfg.Source.ID, err)
	}
	if sc.targetConn, err = sc.Connect(ctx, cfg.Target); err != nil {
		return sc, fmt.Errorf("failed to connect to target %s: %w", cfg.Target.ID, err)
	}
	if sc.sourceProps, err = cfg.Metadata.Properties(ctx, cfg.Source, sc.sourceConn); err != nil {
		return sc, fmt.Errorf("failed to load source metadata: %w", err)
	}
	if sc.targetProps, err = cfg.Metadata.Properties(ctx, cfg.Target, sc.targetConn); err != nil {
		return sc, fmt.Errorf("failed to load target metadata: %w", err)
	}
	return sc, nil
}

func (sc *Context) Source() *member.Member               { return sc.source }
func (sc *Context) Target() *member.Member               { return sc.target }
func (sc *Context) SourceConn() backend.Conn             { return sc.sourceConn }
func (sc *Context) TargetConn() backend.Conn             { return sc.targetConn }
func (sc *Context) SourceProperties() *schema.Properties { return sc.sourceProps }
func (sc *Context) TargetProperties() *schema.Properties { return sc.targetProps }
func (sc *Context) Dialect() dialect.Dialect             { return sc.dialect }
func (sc *Context) Pool() *parallel.WorkerPool           { return sc.pool }
func (sc *Context) Logger() logging.Logger               { return sc.logger }
func (sc *Context) Metrics() *metrics.Registry           { return sc.metrics }

// ActiveMembers returns the active set snapshot taken at attempt start.
func (sc *Context) ActiveMembers() []*member.Member {
	return append([]*member.Member(nil), sc.active...)
}

// Connect opens an additional connection owned by the context.
func (sc *Context) Connect(ctx context.Context, m *member.Member) (backend.Conn, error) {
	conn, err := sc.connector.Connect(ctx, m)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	sc.conns = append(sc.conns, conn)
	sc.mu.Unlock()
	return conn, nil
}

// Record adds table statistics.
func (sc *Context) Record(table string, s TableStats) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	total := sc.stats[table]
	total.Inserted += s.Inserted
	total.Updated += s.Updated
	total.Deleted += s.Deleted
	sc.stats[table] = total
}

// Stats returns per table statistics recorded so far.
func (sc *Context) Stats() map[string]TableStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make(map[string]TableStats, len(sc.stats))
	for k, v := range sc.stats {
		out[k] = v
	}
	return out
}

// TotalStats sums the statistics of every table.
func (sc *Context) TotalStats() TableStats {
	var total TableStats
	for _, s := range sc.Stats() {
		total.Inserted += s.Inserted
		total.Updated += s.Updated
		total.Deleted += s.Deleted
	}
	return total
}

// Tables returns the source tables sorted by name.
func (sc *Context) Tables() []*schema.Table {
	tables := append([]*schema.Table(nil), sc.sourceProps.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}

// TargetTable returns the target's definition of a source table.
func (sc *Context) TargetTable(name string) (*schema.Table, error) {
	t, ok := sc.targetProps.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrMissingTable, name, sc.target.ID)
	}
	return t, nil
}

// Close waits for pooled work, then closes every connection.
func (sc *Context) Close(ctx context.Context) error {
	sc.pool.Close()

	sc.mu.Lock()
	conns := sc.conns
	sc.conns = nil
	sc.mu.Unlock()

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.Close(ctx))
	}
	return errors.Join(errs...)
}
