package synchronization

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// Full empties every target table and copies the source rows into it.
type Full struct {
	batchSize int
}

// NewFull creates the full strategy.
func NewFull(cfg FullConfig) (*Full, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Full{batchSize: batchSize(cfg.BatchSize)}, nil
}

func (f *Full) ID() string { return FullID }

// Synchronize drops target foreign keys, copies each table in its own
// transaction, restores the foreign keys from the source definitions and
// reconciles identity columns and sequences. The first failing table is
// rolled back and ends the attempt.
func (f *Full) Synchronize(ctx context.Context, sc *Context) (err error) {
	defer func() {
		if err != nil {
			RecoverConstraints(context.WithoutCancel(ctx), sc)
		}
	}()

	if err := DropForeignKeys(ctx, sc); err != nil {
		return err
	}
	for _, t := range sc.Tables() {
		if err := f.copyTable(ctx, sc, t); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	if err := RestoreForeignKeys(ctx, sc); err != nil {
		return err
	}
	return reconcile(ctx, sc)
}

func (f *Full) copyTable(ctx context.Context, sc *Context, t *schema.Table) (err error) {
	timer := logging.StartTimer(sc.Logger(), "copied table", logging.Table(t.Name))
	d := sc.Dialect()

	target, err := sc.TargetTable(t.Name)
	if err != nil {
		return err
	}

	tx, err := sc.TargetConn().Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// TRUNCATE reports no affected rows, so the rows it removes are counted
	// first in the same transaction.
	deleted, err := countRows(ctx, tx, dialect.CountSQL(d, target))
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	if _, err := tx.Exec(ctx, d.TruncateTableSQL(target)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	columns := t.ColumnNames()
	rows, err := sc.SourceConn().Query(ctx, dialect.SelectSQL(d, t, columns, t.KeyColumns()))
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	insert := dialect.InsertSQL(d, target, columns)
	batch := NewBatcher(tx, f.batchSize)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		if err := batch.Add(ctx, insert, rowArgs(d, t, columns, values)...); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := batch.Flush(ctx); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	stats := TableStats{Inserted: batch.Total(), Deleted: int(deleted)}
	sc.Record(t.Name, stats)
	sc.Metrics().RecordSyncRows(stats.Inserted, 0, stats.Deleted)
	timer.End(logging.Int("inserted", stats.Inserted))
	return nil
}

func countRows(ctx context.Context, q backend.Querier, sql string) (int64, error) {
	rows, err := backend.Scan(ctx, q, sql)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, fmt.Errorf("unexpected count result shape")
	}
	return backend.Int64(rows[0][0])
}
