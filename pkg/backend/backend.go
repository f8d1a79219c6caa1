// Package backend defines the narrow connection surface the cluster needs
// from a member database.
//
// A Conn is owned by exactly one operation at a time. Connectors hand out a
// fresh Conn per operation, usually backed by a driver level pool.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// ErrUnknownDriver is returned when no connector handles a member's driver.
var ErrUnknownDriver = errors.New("unknown driver")

// Statement is one SQL statement with positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Rows is a forward-only cursor. Values returns one value per selected
// column; NULL is nil.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Querier runs statements.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	// Exec returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Tx is a backend transaction.
type Tx interface {
	Querier
	// ExecBatch sends statements in order as one round trip where the
	// driver supports it. The first failing statement aborts the batch.
	ExecBatch(ctx context.Context, stmts []Statement) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a live connection to one member.
type Conn interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Connector opens connections to members.
type Connector interface {
	Connect(ctx context.Context, m *member.Member) (Conn, error)
	Close() error
}

// Multi routes each member to the connector registered for its driver.
type Multi map[string]Connector

// Connect implements Connector.
func (mc Multi) Connect(ctx context.Context, m *member.Member) (Conn, error) {
	c, ok := mc[m.Source.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q (member %s)", ErrUnknownDriver, m.Source.Driver, m.ID)
	}
	return c.Connect(ctx, m)
}

// Close closes every registered connector.
func (mc Multi) Close() error {
	var errs []error
	for _, c := range mc {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Scan reads every row of a query into memory. Intended for small metadata
// queries.
func Scan(ctx context.Context, q Querier, sql string, args ...any) ([][]any, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
