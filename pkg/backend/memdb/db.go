// Package memdb is an in-memory backend that executes the statement shapes
// produced by the standard dialect. It exists for tests and local runs; it
// is not a SQL engine.
package memdb

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// DriverName is the member source driver served by this package.
const DriverName = "memdb"

var (
	ErrDown         = errors.New("memdb: database is down")
	ErrUnsupported  = errors.New("memdb: unsupported statement")
	ErrNoTable      = errors.New("memdb: no such table")
	ErrNoSequence   = errors.New("memdb: no such sequence")
	ErrDuplicateKey = errors.New("memdb: duplicate primary key")
)

// Counts tallies rows changed by DML.
type Counts struct {
	Inserted int64
	Updated  int64
	Deleted  int64
}

type table struct {
	def      schema.Table
	rows     [][]any
	identity map[string]int64
}

type sequence struct {
	def   schema.Sequence
	value int64
}

// DB is one in-memory database.
type DB struct {
	name string

	mu          sync.Mutex
	tables      map[string]*table
	order       []string
	sequences   map[string]*sequence
	constraints map[string]bool
	failOn      func(sql string) error
	log         []string
	counts      Counts

	down      atomic.Bool
	openConns atomic.Int64
}

// New creates an empty database.
func New(name string) *DB {
	return &DB{
		name:        name,
		tables:      make(map[string]*table),
		sequences:   make(map[string]*sequence),
		constraints: make(map[string]bool),
	}
}

// Name returns the database name.
func (db *DB) Name() string { return db.name }

// CreateTable defines a table. Its constraints start out present.
func (db *DB) CreateTable(def schema.Table) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.tables[def.Name]; !ok {
		db.order = append(db.order, def.Name)
	}
	db.tables[def.Name] = &table{def: def, identity: make(map[string]int64)}
	if def.PrimaryKey != nil {
		db.constraints[def.PrimaryKey.Name] = true
	}
	for _, uc := range def.UniqueConstraints {
		db.constraints[uc.Name] = true
	}
	for _, fk := range def.ForeignKeys {
		db.constraints[fk.Name] = true
	}
}

// CreateSequence defines a sequence whose last issued value is value.
func (db *DB) CreateSequence(def schema.Sequence, value int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sequences[def.Name] = &sequence{def: def, value: value}
}

// Insert loads full rows, in table column order, bypassing the statement log.
func (db *DB) Insert(name string, rows ...[]any) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	for _, r := range rows {
		if len(r) != len(t.def.Columns) {
			return fmt.Errorf("memdb: %s expects %d values, got %d", name, len(t.def.Columns), len(r))
		}
		if err := t.insert(cloneRow(r)); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns a copy of a table's rows ordered by primary key.
func (db *DB) Rows(name string) [][]any {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tables[name]
	if !ok {
		return nil
	}
	key := t.indexes(t.def.KeyColumns())
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = cloneRow(r)
	}
	if len(key) > 0 {
		sortRows(out, key)
	}
	return out
}

// SequenceValue returns the last value a sequence issued.
func (db *DB) SequenceValue(name string) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s, ok := db.sequences[name]; ok {
		return s.value
	}
	return 0
}

// IdentityStart returns the restart value last set on an identity column.
func (db *DB) IdentityStart(tableName, column string) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[tableName]; ok {
		return t.identity[column]
	}
	return 0
}

// MissingConstraints lists constraints that are currently dropped.
func (db *DB) MissingConstraints() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []string
	for name, present := range db.constraints {
		if !present {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Statements returns every statement executed so far.
func (db *DB) Statements() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.log)
}

// Counts returns the DML tally.
func (db *DB) Counts() Counts {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.counts
}

// Reset clears the statement log and the DML tally.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.log = nil
	db.counts = Counts{}
}

// SetDown makes every connection attempt and statement fail with ErrDown.
func (db *DB) SetDown(down bool) {
	db.down.Store(down)
}

// FailOn installs a hook consulted before each statement; a non-nil error
// fails the statement.
func (db *DB) FailOn(fn func(sql string) error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failOn = fn
}

// OpenConns returns the number of connections not yet closed.
func (db *DB) OpenConns() int64 {
	return db.openConns.Load()
}

// Properties returns the current schema.
func (db *DB) Properties() *schema.Properties {
	db.mu.Lock()
	defer db.mu.Unlock()

	props := &schema.Properties{}
	for _, name := range db.order {
		def := db.tables[name].def
		props.Tables = append(props.Tables, &def)
	}
	names := slices.Sorted(maps.Keys(db.sequences))
	for _, name := range names {
		props.Sequences = append(props.Sequences, db.sequences[name].def)
	}
	return props
}

type snapshot struct {
	tables      map[string]*table
	sequences   map[string]*sequence
	constraints map[string]bool
}

func (db *DB) snapshot() *snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := &snapshot{
		tables:      make(map[string]*table, len(db.tables)),
		sequences:   make(map[string]*sequence, len(db.sequences)),
		constraints: maps.Clone(db.constraints),
	}
	for name, t := range db.tables {
		rows := make([][]any, len(t.rows))
		for i, r := range t.rows {
			rows[i] = cloneRow(r)
		}
		s.tables[name] = &table{def: t.def, rows: rows, identity: maps.Clone(t.identity)}
	}
	for name, seq := range db.sequences {
		copied := *seq
		s.sequences[name] = &copied
	}
	return s
}

func (db *DB) restore(s *snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = s.tables
	db.sequences = s.sequences
	db.constraints = s.constraints
}

func (t *table) indexes(columns []string) []int {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = -1
		for j, col := range t.def.Columns {
			if col.Name == c {
				idx[i] = j
				break
			}
		}
	}
	return idx
}

func (t *table) insert(row []any) error {
	key := t.indexes(t.def.KeyColumns())
	if len(key) > 0 {
		for _, r := range t.rows {
			if matches(r, key, pick(row, key)) {
				return fmt.Errorf("%w: %s %v", ErrDuplicateKey, t.def.Name, pick(row, key))
			}
		}
	}
	t.rows = append(t.rows, row)
	return nil
}

func pick(row []any, idx []int) []any {
	out := make([]any, len(idx))
	for i, j := range idx {
		out[i] = row[j]
	}
	return out
}

func matches(row []any, idx []int, values []any) bool {
	for i, j := range idx {
		if !backend.Equal(row[j], values[i]) {
			return false
		}
	}
	return true
}

func sortRows(rows [][]any, idx []int) {
	sort.SliceStable(rows, func(a, b int) bool {
		return backend.CompareTuples(pick(rows[a], idx), pick(rows[b], idx)) < 0
	})
}

func cloneRow(r []any) []any {
	out := make([]any, len(r))
	for i, v := range r {
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		out[i] = v
	}
	return out
}
