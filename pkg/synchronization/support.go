package synchronization

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// dropped tracks target constraints removed during an attempt so they can
// be put back if the attempt fails.
type dropped struct {
	foreignKeys []schema.ForeignKeyConstraint
	uniques     []schema.UniqueConstraint
}

// DropForeignKeys drops every foreign key defined on the target.
func DropForeignKeys(ctx context.Context, sc *Context) error {
	d := sc.Dialect()
	for _, fk := range sc.TargetProperties().ForeignKeys() {
		if _, err := sc.TargetConn().Exec(ctx, d.DropForeignKeySQL(fk)); err != nil {
			return fmt.Errorf("failed to drop foreign key %s on %s: %w", fk.Name, fk.Table, err)
		}
		sc.target.MarkDirty()
		sc.mu.Lock()
		sc.dropped.foreignKeys = append(sc.dropped.foreignKeys, fk)
		sc.mu.Unlock()
	}
	return nil
}

// RestoreForeignKeys creates the source's foreign keys on the target.
func RestoreForeignKeys(ctx context.Context, sc *Context) error {
	d := sc.Dialect()
	for _, fk := range sc.SourceProperties().ForeignKeys() {
		if _, err := sc.TargetConn().Exec(ctx, d.CreateForeignKeySQL(fk)); err != nil {
			return fmt.Errorf("failed to restore foreign key %s on %s: %w", fk.Name, fk.Table, err)
		}
	}
	sc.mu.Lock()
	sc.dropped.foreignKeys = nil
	sc.mu.Unlock()
	return nil
}

// DropUniqueConstraints drops the target's non primary unique constraints of
// one table.
func DropUniqueConstraints(ctx context.Context, sc *Context, table *schema.Table) error {
	target, err := sc.TargetTable(table.Name)
	if err != nil {
		return err
	}
	d := sc.Dialect()
	for _, uc := range target.UniqueConstraints {
		if _, err := sc.TargetConn().Exec(ctx, d.DropUniqueConstraintSQL(uc)); err != nil {
			return fmt.Errorf("failed to drop unique constraint %s on %s: %w", uc.Name, uc.Table, err)
		}
		sc.target.MarkDirty()
		sc.mu.Lock()
		sc.dropped.uniques = append(sc.dropped.uniques, uc)
		sc.mu.Unlock()
	}
	return nil
}

// RestoreUniqueConstraints creates the source's unique constraints of the
// given tables on the target.
func RestoreUniqueConstraints(ctx context.Context, sc *Context, tables []*schema.Table) error {
	d := sc.Dialect()
	for _, t := range tables {
		for _, uc := range t.UniqueConstraints {
			if _, err := sc.TargetConn().Exec(ctx, d.CreateUniqueConstraintSQL(uc)); err != nil {
				return fmt.Errorf("failed to restore unique constraint %s on %s: %w", uc.Name, uc.Table, err)
			}
		}
	}
	sc.mu.Lock()
	sc.dropped.uniques = nil
	sc.mu.Unlock()
	return nil
}

// RecoverConstraints recreates whatever target constraints are still dropped
// after a failed attempt, uniques before foreign keys. Every constraint is
// attempted; the errors are joined.
func RecoverConstraints(ctx context.Context, sc *Context) error {
	sc.mu.Lock()
	pending := sc.dropped
	sc.dropped = dropped{}
	sc.mu.Unlock()

	d := sc.Dialect()
	var errs []error
	for _, uc := range pending.uniques {
		if _, err := sc.TargetConn().Exec(ctx, d.CreateUniqueConstraintSQL(uc)); err != nil {
			errs = append(errs, fmt.Errorf("unique constraint %s: %w", uc.Name, err))
		}
	}
	for _, fk := range pending.foreignKeys {
		if _, err := sc.TargetConn().Exec(ctx, d.CreateForeignKeySQL(fk)); err != nil {
			errs = append(errs, fmt.Errorf("foreign key %s: %w", fk.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		sc.Logger().Error("failed to recover target constraints", logging.Error(err))
		return err
	}
	return nil
}

// Batcher queues statements on a transaction and sends them in batches of a
// fixed size. Flush sends what is left.
type Batcher struct {
	tx      backend.Tx
	size    int
	pending []backend.Statement
	total   int
}

// NewBatcher creates a batcher. A size below one sends every statement on
// its own.
func NewBatcher(tx backend.Tx, size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{tx: tx, size: size, pending: make([]backend.Statement, 0, size)}
}

// Add queues a statement and flushes at the batch boundary.
func (b *Batcher) Add(ctx context.Context, sql string, args ...any) error {
	b.pending = append(b.pending, backend.Statement{SQL: sql, Args: args})
	b.total++
	if len(b.pending) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush sends queued statements.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	err := b.tx.ExecBatch(ctx, b.pending)
	b.pending = b.pending[:0]
	return err
}

// Total returns the number of statements added.
func (b *Batcher) Total() int {
	return b.total
}
