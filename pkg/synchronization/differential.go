package synchronization

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// Differential patches the target with the minimal set of deletes, inserts
// and updates found by merging both tables in primary key order.
type Differential struct {
	batchSize int
	version   *regexp.Regexp
}

// NewDifferential creates the differential strategy.
func NewDifferential(cfg DiffConfig) (*Differential, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Differential{batchSize: batchSize(cfg.BatchSize)}
	if cfg.VersionPattern != "" {
		d.version = regexp.MustCompile(cfg.VersionPattern)
	}
	return d, nil
}

func (s *Differential) ID() string { return DiffID }

// Synchronize requires a primary key on every table and fails before
// touching the target otherwise.
func (s *Differential) Synchronize(ctx context.Context, sc *Context) (err error) {
	tables := sc.Tables()
	for _, t := range tables {
		if len(t.KeyColumns()) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingPrimaryKey, t.Name)
		}
	}

	defer func() {
		if err != nil {
			RecoverConstraints(context.WithoutCancel(ctx), sc)
		}
	}()

	// The write transaction owns the target connection, so the target
	// cursor needs its own.
	reader, err := sc.Connect(ctx, sc.Target())
	if err != nil {
		return fmt.Errorf("failed to open target reader: %w", err)
	}

	if err := DropForeignKeys(ctx, sc); err != nil {
		return err
	}
	for _, t := range tables {
		if err := DropUniqueConstraints(ctx, sc, t); err != nil {
			return err
		}
		if err := s.syncTable(ctx, sc, reader, t); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	if err := RestoreUniqueConstraints(ctx, sc, tables); err != nil {
		return err
	}
	if err := RestoreForeignKeys(ctx, sc); err != nil {
		return err
	}
	return reconcile(ctx, sc)
}

// versionColumn returns the position among nonKey of the first column
// matching the version pattern, or -1.
func (s *Differential) versionColumn(nonKey []string) int {
	if s.version == nil {
		return -1
	}
	for i, c := range nonKey {
		if s.version.MatchString(c) {
			return i
		}
	}
	return -1
}

func (s *Differential) syncTable(ctx context.Context, sc *Context, reader backend.Conn, t *schema.Table) (err error) {
	timer := logging.StartTimer(sc.Logger(), "synchronized table", logging.Table(t.Name))
	d := sc.Dialect()

	target, err := sc.TargetTable(t.Name)
	if err != nil {
		return err
	}

	key := t.KeyColumns()
	nonKey := t.NonKeyColumns()
	columns := append(append([]string(nil), key...), nonKey...)
	selectSQL := dialect.SelectSQL(d, t, columns, key)

	// Fetch the target on a worker while the caller fetches the source.
	var targetRows backend.Rows
	fetched := sc.Pool().Go(func() error {
		var err error
		targetRows, err = reader.Query(ctx, selectSQL)
		return err
	})
	sourceRows, sourceErr := sc.SourceConn().Query(ctx, selectSQL)
	targetErr := <-fetched
	if sourceRows != nil {
		defer sourceRows.Close()
	}
	if targetErr == nil && targetRows != nil {
		defer targetRows.Close()
	}
	if sourceErr != nil {
		return fmt.Errorf("source select: %w", sourceErr)
	}
	if targetErr != nil {
		return fmt.Errorf("target select: %w", targetErr)
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

	deletes := NewBatcher(tx, s.batchSize)
	inserts := NewBatcher(tx, s.batchSize)
	updates := NewBatcher(tx, s.batchSize)
	deleteSQL := dialect.DeleteSQL(d, target, key)
	insertSQL := dialect.InsertSQL(d, target, columns)
	var updateSQL string
	if len(nonKey) > 0 {
		updateSQL = dialect.UpdateSQL(d, target, nonKey, key)
	}
	version := s.versionColumn(nonKey)
	k := len(key)

	src := &cursor{rows: sourceRows}
	tgt := &cursor{rows: targetRows}
	if err := src.advance(); err != nil {
		return fmt.Errorf("source fetch: %w", err)
	}
	if err := tgt.advance(); err != nil {
		return fmt.Errorf("target fetch: %w", err)
	}

	for !src.done || !tgt.done {
		if err := ctx.Err(); err != nil {
			return err
		}

		var c int
		switch {
		case src.done:
			c = 1
		case tgt.done:
			c = -1
		default:
			c = backend.CompareTuples(src.row[:k], tgt.row[:k])
		}

		switch {
		case c > 0:
			if err := deletes.Add(ctx, deleteSQL, tgt.row[:k]...); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			if err := tgt.advance(); err != nil {
				return fmt.Errorf("target fetch: %w", err)
			}

		case c < 0:
			if err := inserts.Add(ctx, insertSQL, rowArgs(d, t, columns, src.row)...); err != nil {
				return fmt.Errorf("insert: %w", err)
			}
			if err := src.advance(); err != nil {
				return fmt.Errorf("source fetch: %w", err)
			}

		default:
			if updateSQL != "" && differs(src.row[k:], tgt.row[k:], version) {
				args := append(rowArgs(d, t, columns[k:], src.row[k:]), src.row[:k]...)
				if err := updates.Add(ctx, updateSQL, args...); err != nil {
					return fmt.Errorf("update: %w", err)
				}
			}
			if err := src.advance(); err != nil {
				return fmt.Errorf("source fetch: %w", err)
			}
			if err := tgt.advance(); err != nil {
				return fmt.Errorf("target fetch: %w", err)
			}
		}
	}

	for _, b := range []*Batcher{deletes, inserts, updates} {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	stats := TableStats{Inserted: inserts.Total(), Updated: updates.Total(), Deleted: deletes.Total()}
	sc.Record(t.Name, stats)
	sc.Metrics().RecordSyncRows(stats.Inserted, stats.Updated, stats.Deleted)
	timer.End(
		logging.Int("inserted", stats.Inserted),
		logging.Int("updated", stats.Updated),
		logging.Int("deleted", stats.Deleted))
	return nil
}

// differs compares non key values. With a version column only that column
// is compared.
func differs(source, target []any, version int) bool {
	if version >= 0 {
		return !backend.Equal(source[version], target[version])
	}
	for i := range source {
		if !backend.Equal(source[i], target[i]) {
			return true
		}
	}
	return false
}

type cursor struct {
	rows backend.Rows
	row  []any
	done bool
}

func (c *cursor) advance() error {
	if c.done {
		return nil
	}
	if c.rows.Next() {
		values, err := c.rows.Values()
		if err != nil {
			return err
		}
		c.row = values
		return nil
	}
	c.row = nil
	c.done = true
	return c.rows.Err()
}
