// Package sqlconn connects to members through database/sql drivers.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// DSNFunc builds the driver DSN for a member, folding in its credentials.
type DSNFunc func(m *member.Member) (string, error)

// Config describes one database/sql driver.
type Config struct {
	// DriverName is the name the driver registered with database/sql.
	DriverName      string
	DSN             DSNFunc
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          logging.Logger
}

// MySQLConfig returns a Config for github.com/go-sql-driver/mysql.
func MySQLConfig() Config {
	return Config{
		DriverName:      "mysql",
		DSN:             MySQLDSN,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// MySQLDSN applies member credentials to a go-sql-driver/mysql DSN.
func MySQLDSN(m *member.Member) (string, error) {
	cfg, err := mysql.ParseDSN(m.Source.DSN)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN for %s: %w", m.ID, err)
	}
	if m.Credentials.User != "" {
		cfg.User = m.Credentials.User
	}
	if m.Credentials.Password != "" {
		cfg.Passwd = m.Credentials.Password
	}
	return cfg.FormatDSN(), nil
}

// Connector keeps one *sql.DB per member.
type Connector struct {
	config Config
	logger logging.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewConnector creates a database/sql connector.
func NewConnector(config Config) *Connector {
	return &Connector{
		config: config,
		logger: logging.OrNop(config.Logger).With(logging.Component("sqlconn")),
		dbs:    make(map[string]*sql.DB),
	}
}

func (c *Connector) db(m *member.Member) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.dbs[m.ID]; ok {
		return db, nil
	}

	dsn := m.Source.DSN
	if c.config.DSN != nil {
		var err error
		if dsn, err = c.config.DSN(m); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(c.config.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for %s: %w", c.config.DriverName, m.ID, err)
	}
	if c.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.config.MaxOpenConns)
	}
	if c.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.config.MaxIdleConns)
	}
	if c.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.config.ConnMaxLifetime)
	}
	c.dbs[m.ID] = db
	c.logger.Debug("opened database handle", logging.MemberID(m.ID))
	return db, nil
}

// Connect reserves a dedicated connection for the member.
func (c *Connector) Connect(ctx context.Context, m *member.Member) (backend.Conn, error) {
	db, err := c.db(m)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Close closes every member handle.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, db := range c.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.dbs, id)
	}
	return firstErr
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func query(ctx context.Context, q queryer, sqlText string, args ...any) (backend.Rows, error) {
	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &Rows{rows: rows, width: len(cols)}, nil
}

func exec(ctx context.Context, q queryer, sqlText string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		return 0, nil
	}
	return n, nil
}

// Conn wraps a reserved *sql.Conn.
type Conn struct {
	conn *sql.Conn
}

func (c *Conn) Query(ctx context.Context, sqlText string, args ...any) (backend.Rows, error) {
	return query(ctx, c.conn, sqlText, args...)
}

func (c *Conn) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	return exec(ctx, c.conn, sqlText, args...)
}

func (c *Conn) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *Conn) Close(context.Context) error {
	return c.conn.Close()
}

// Tx wraps *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Query(ctx context.Context, sqlText string, args ...any) (backend.Rows, error) {
	return query(ctx, t.tx, sqlText, args...)
}

func (t *Tx) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	return exec(ctx, t.tx, sqlText, args...)
}

// ExecBatch runs statements one after another; database/sql has no batch API.
func (t *Tx) ExecBatch(ctx context.Context, stmts []backend.Statement) error {
	for i, s := range stmts {
		if _, err := t.tx.ExecContext(ctx, s.SQL, s.Args...); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}

func (t *Tx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *Tx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

// Rows adapts *sql.Rows to backend.Rows.
type Rows struct {
	rows  *sql.Rows
	width int
}

func (r *Rows) Next() bool { return r.rows.Next() }
func (r *Rows) Err() error { return r.rows.Err() }
func (r *Rows) Close()     { r.rows.Close() }

func (r *Rows) Values() ([]any, error) {
	values := make([]any, r.width)
	dest := make([]any, r.width)
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return values, nil
}

var (
	_ backend.Connector = (*Connector)(nil)
	_ backend.Conn      = (*Conn)(nil)
	_ backend.Tx        = (*Tx)(nil)
	_ backend.Rows      = (*Rows)(nil)
)
