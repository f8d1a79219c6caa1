package memdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("memdb: connection closed")

// Connector maps member ids to databases.
type Connector struct {
	mu  sync.RWMutex
	dbs map[string]*DB
}

// NewConnector creates an empty connector.
func NewConnector() *Connector {
	return &Connector{dbs: make(map[string]*DB)}
}

// Add serves db for the member with the given id.
func (c *Connector) Add(memberID string, db *DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dbs[memberID] = db
}

// DB returns the database of a member.
func (c *Connector) DB(memberID string) (*DB, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[memberID]
	return db, ok
}

// Connect implements backend.Connector.
func (c *Connector) Connect(ctx context.Context, m *member.Member) (backend.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, ok := c.DB(m.ID)
	if !ok {
		return nil, fmt.Errorf("memdb: no database for member %s", m.ID)
	}
	if db.down.Load() {
		return nil, ErrDown
	}
	db.openConns.Add(1)
	return &Conn{db: db}, nil
}

// Close implements backend.Connector.
func (c *Connector) Close() error { return nil }

// Conn is a connection to one DB.
type Conn struct {
	db     *DB
	mu     sync.Mutex
	closed bool
}

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (backend.Rows, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	return query(c.db, sql, args)
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	return exec(c.db, sql, args)
}

// Begin snapshots the database; Rollback restores the snapshot.
func (c *Conn) Begin(ctx context.Context) (backend.Tx, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if c.db.down.Load() {
		return nil, ErrDown
	}
	return &Tx{conn: c, snap: c.db.snapshot()}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if c.db.down.Load() {
		return ErrDown
	}
	return nil
}

func (c *Conn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.db.openConns.Add(-1)
	}
	return nil
}

// Tx is a snapshot transaction. Concurrent writers outside the transaction
// are lost on rollback.
type Tx struct {
	conn *Conn
	mu   sync.Mutex
	snap *snapshot
}

func (t *Tx) active(ctx context.Context) error {
	if err := t.conn.check(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap == nil {
		return errors.New("memdb: transaction already finished")
	}
	return nil
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (backend.Rows, error) {
	if err := t.active(ctx); err != nil {
		return nil, err
	}
	return query(t.conn.db, sql, args)
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := t.active(ctx); err != nil {
		return 0, err
	}
	return exec(t.conn.db, sql, args)
}

func (t *Tx) ExecBatch(ctx context.Context, stmts []backend.Statement) error {
	for i, s := range stmts {
		if _, err := t.Exec(ctx, s.SQL, s.Args...); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.active(ctx); err != nil {
		return err
	}
	if t.conn.db.down.Load() {
		return ErrDown
	}
	t.mu.Lock()
	t.snap = nil
	t.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap == nil {
		return nil
	}
	t.conn.db.restore(t.snap)
	t.snap = nil
	return nil
}

func query(db *DB, sql string, args []any) (backend.Rows, error) {
	res, err := db.execute(sql, args)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: res.rows, pos: -1}, nil
}

func exec(db *DB, sql string, args []any) (int64, error) {
	res, err := db.execute(sql, args)
	if err != nil {
		return 0, err
	}
	return res.changed, nil
}

// Rows iterates a materialized result.
type Rows struct {
	rows [][]any
	pos  int
}

func (r *Rows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *Rows) Values() ([]any, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, errors.New("memdb: no current row")
	}
	return cloneRow(r.rows[r.pos]), nil
}

func (r *Rows) Err() error { return nil }
func (r *Rows) Close()     { r.pos = len(r.rows) }

// Loader reads metadata straight from the database behind a memdb
// connection or transaction.
type Loader struct{}

// Load implements schema.Loader.
func (Loader) Load(ctx context.Context, q backend.Querier) (*schema.Properties, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch v := q.(type) {
	case *Conn:
		return v.db.Properties(), nil
	case *Tx:
		return v.conn.db.Properties(), nil
	}
	return nil, fmt.Errorf("memdb: cannot load metadata through %T", q)
}

var (
	_ backend.Connector = (*Connector)(nil)
	_ backend.Conn      = (*Conn)(nil)
	_ backend.Tx        = (*Tx)(nil)
	_ schema.Loader     = Loader{}
)
