// Package pgxconn connects to PostgreSQL members with pgx.
package pgxconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// DriverName is the member.Source.Driver value served by this package.
const DriverName = "pgx"

// Config holds pool limits applied to every member pool.
type Config struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	Logger          logging.Logger
}

// DefaultConfig returns pool settings suitable for a middleware instance.
func DefaultConfig() Config {
	return Config{
		MaxConns:        25,
		MinConns:        0,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
	}
}

// Connector keeps one pgxpool per member, created on first use.
type Connector struct {
	config Config
	logger logging.Logger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewConnector creates a pgx connector.
func NewConnector(config Config) *Connector {
	return &Connector{
		config: config,
		logger: logging.OrNop(config.Logger).With(logging.Component("pgxconn")),
		pools:  make(map[string]*pgxpool.Pool),
	}
}

func (c *Connector) pool(ctx context.Context, m *member.Member) (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pools[m.ID]; ok {
		return p, nil
	}

	cfg, err := pgxpool.ParseConfig(m.Source.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL for %s: %w", m.ID, err)
	}
	if m.Credentials.User != "" {
		cfg.ConnConfig.User = m.Credentials.User
	}
	if m.Credentials.Password != "" {
		cfg.ConnConfig.Password = m.Credentials.Password
	}
	if c.config.MaxConns > 0 {
		cfg.MaxConns = c.config.MaxConns
	}
	cfg.MinConns = c.config.MinConns
	if c.config.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = c.config.MaxConnLifetime
	}
	if c.config.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = c.config.MaxConnIdleTime
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool for %s: %w", m.ID, err)
	}
	c.pools[m.ID] = p
	c.logger.Debug("created connection pool", logging.MemberID(m.ID))
	return p, nil
}

// Connect acquires a dedicated connection from the member's pool.
func (c *Connector) Connect(ctx context.Context, m *member.Member) (backend.Conn, error) {
	p, err := c.pool(ctx, m)
	if err != nil {
		return nil, err
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Close closes every member pool.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pools {
		p.Close()
		delete(c.pools, id)
	}
	return nil
}

// Conn wraps a pooled pgx connection.
type Conn struct {
	conn *pgxpool.Conn
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (backend.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *Conn) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close returns the connection to its pool.
func (c *Conn) Close(context.Context) error {
	c.conn.Release()
	return nil
}

// Tx wraps a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (backend.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExecBatch queues every statement in a pgx.Batch and sends it in one round trip.
func (t *Tx) ExecBatch(ctx context.Context, stmts []backend.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range stmts {
		batch.Queue(s.SQL, s.Args...)
	}

	results := t.tx.SendBatch(ctx, batch)
	for i := range stmts {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return results.Close()
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

var (
	_ backend.Connector = (*Connector)(nil)
	_ backend.Conn      = (*Conn)(nil)
	_ backend.Tx        = (*Tx)(nil)
)
