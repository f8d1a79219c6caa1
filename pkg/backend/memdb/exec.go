package memdb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
)

var (
	selectOneRe  = regexp.MustCompile(`^SELECT 1$`)
	currentSeqRe = regexp.MustCompile(`^SELECT CURRENT VALUE FOR (\w+)$`)
	selectRe     = regexp.MustCompile(`^SELECT (.+?) FROM (\w+)(?: ORDER BY (.+))?$`)
	maxRe        = regexp.MustCompile(`^MAX\((\w+)\)$`)
	countRe      = regexp.MustCompile(`^COUNT\(\*\)$`)
	insertRe     = regexp.MustCompile(`^INSERT INTO (\w+) \((.+)\) VALUES \((.+)\)$`)
	updateRe     = regexp.MustCompile(`^UPDATE (\w+) SET (.+) WHERE (.+)$`)
	deleteRe     = regexp.MustCompile(`^DELETE FROM (\w+)(?: WHERE (.+))?$`)
	truncateRe   = regexp.MustCompile(`^TRUNCATE TABLE (\w+)$`)
	alterSeqRe   = regexp.MustCompile(`^ALTER SEQUENCE (\w+) RESTART WITH (-?\d+)$`)
	alterIdentRe = regexp.MustCompile(`^ALTER TABLE (\w+) ALTER COLUMN (\w+) RESTART WITH (-?\d+)$`)
	dropConsRe   = regexp.MustCompile(`^ALTER TABLE (\w+) DROP CONSTRAINT (\w+)$`)
	addConsRe    = regexp.MustCompile(`^ALTER TABLE (\w+) ADD CONSTRAINT (\w+) .+$`)
	assignmentRe = regexp.MustCompile(`^(\w+) = \?$`)
)

// result of one statement: rows for queries, affected count for DML.
type result struct {
	columns int
	rows    [][]any
	changed int64
}

func (db *DB) execute(sql string, args []any) (*result, error) {
	if db.down.Load() {
		return nil, ErrDown
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.log = append(db.log, sql)
	if db.failOn != nil {
		if err := db.failOn(sql); err != nil {
			return nil, err
		}
	}

	stmt := strings.NewReplacer(`"`, "", "`", "").Replace(strings.TrimSpace(sql))
	if n := strings.Count(stmt, "?"); n != len(args) {
		return nil, fmt.Errorf("memdb: statement has %d parameters, got %d arguments", n, len(args))
	}

	switch {
	case selectOneRe.MatchString(stmt):
		return &result{columns: 1, rows: [][]any{{int64(1)}}}, nil

	case currentSeqRe.MatchString(stmt):
		m := currentSeqRe.FindStringSubmatch(stmt)
		seq, ok := db.sequences[m[1]]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSequence, m[1])
		}
		return &result{columns: 1, rows: [][]any{{seq.value}}}, nil

	case selectRe.MatchString(stmt):
		m := selectRe.FindStringSubmatch(stmt)
		return db.selectRows(m[2], splitList(m[1]), splitList(m[3]))

	case insertRe.MatchString(stmt):
		m := insertRe.FindStringSubmatch(stmt)
		return db.insertRow(m[1], splitList(m[2]), args)

	case updateRe.MatchString(stmt):
		m := updateRe.FindStringSubmatch(stmt)
		set, err := assignments(strings.Split(m[2], ", "))
		if err != nil {
			return nil, err
		}
		where, err := assignments(strings.Split(m[3], " AND "))
		if err != nil {
			return nil, err
		}
		return db.updateRows(m[1], set, where, args)

	case deleteRe.MatchString(stmt):
		m := deleteRe.FindStringSubmatch(stmt)
		var where []string
		if m[2] != "" {
			var err error
			if where, err = assignments(strings.Split(m[2], " AND ")); err != nil {
				return nil, err
			}
		}
		return db.deleteRows(m[1], where, args)

	case truncateRe.MatchString(stmt):
		m := truncateRe.FindStringSubmatch(stmt)
		res, err := db.deleteRows(m[1], nil, nil)
		if err != nil {
			return nil, err
		}
		// TRUNCATE reports no affected rows, as on postgres and mysql.
		res.changed = 0
		return res, nil

	case alterSeqRe.MatchString(stmt):
		m := alterSeqRe.FindStringSubmatch(stmt)
		seq, ok := db.sequences[m[1]]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSequence, m[1])
		}
		next, _ := strconv.ParseInt(m[2], 10, 64)
		// RESTART WITH names the next value issued.
		seq.value = next - seq.def.Step()
		return &result{}, nil

	case alterIdentRe.MatchString(stmt):
		m := alterIdentRe.FindStringSubmatch(stmt)
		t, err := db.table(m[1])
		if err != nil {
			return nil, err
		}
		next, _ := strconv.ParseInt(m[3], 10, 64)
		t.identity[m[2]] = next
		return &result{}, nil

	case dropConsRe.MatchString(stmt):
		m := dropConsRe.FindStringSubmatch(stmt)
		return db.setConstraint(m[2], false)

	case addConsRe.MatchString(stmt):
		m := addConsRe.FindStringSubmatch(stmt)
		return db.setConstraint(m[2], true)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupported, sql)
}

func (db *DB) table(name string) (*table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return t, nil
}

func (db *DB) columnIndexes(t *table, columns []string) ([]int, error) {
	idx := t.indexes(columns)
	for i, j := range idx {
		if j < 0 {
			return nil, fmt.Errorf("memdb: no column %s in %s", columns[i], t.def.Name)
		}
	}
	return idx, nil
}

func (db *DB) selectRows(name string, columns, orderBy []string) (*result, error) {
	t, err := db.table(name)
	if err != nil {
		return nil, err
	}

	if len(columns) == 1 && countRe.MatchString(columns[0]) {
		return &result{columns: 1, rows: [][]any{{int64(len(t.rows))}}}, nil
	}
	if len(columns) == 1 {
		if m := maxRe.FindStringSubmatch(columns[0]); m != nil {
			idx, err := db.columnIndexes(t, m[1:2])
			if err != nil {
				return nil, err
			}
			var highest any
			for _, r := range t.rows {
				if v := r[idx[0]]; v != nil && (highest == nil || backend.Compare(v, highest) > 0) {
					highest = v
				}
			}
			return &result{columns: 1, rows: [][]any{{highest}}}, nil
		}
	}

	idx, err := db.columnIndexes(t, columns)
	if err != nil {
		return nil, err
	}
	order, err := db.columnIndexes(t, orderBy)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, len(t.rows))
	for i, r := range t.rows {
		rows[i] = cloneRow(r)
	}
	if len(order) > 0 {
		sortRows(rows, order)
	}
	for i, r := range rows {
		rows[i] = pick(r, idx)
	}
	return &result{columns: len(columns), rows: rows}, nil
}

func (db *DB) insertRow(name string, columns []string, args []any) (*result, error) {
	t, err := db.table(name)
	if err != nil {
		return nil, err
	}
	idx, err := db.columnIndexes(t, columns)
	if err != nil {
		return nil, err
	}
	row := make([]any, len(t.def.Columns))
	for i, j := range idx {
		row[j] = args[i]
	}
	if err := t.insert(cloneRow(row)); err != nil {
		return nil, err
	}
	db.counts.Inserted++
	return &result{changed: 1}, nil
}

func (db *DB) updateRows(name string, set, where []string, args []any) (*result, error) {
	t, err := db.table(name)
	if err != nil {
		return nil, err
	}
	setIdx, err := db.columnIndexes(t, set)
	if err != nil {
		return nil, err
	}
	whereIdx, err := db.columnIndexes(t, where)
	if err != nil {
		return nil, err
	}

	values, key := args[:len(set)], args[len(set):]
	var changed int64
	for _, r := range t.rows {
		if !matches(r, whereIdx, key) {
			continue
		}
		for i, j := range setIdx {
			r[j] = cloneRow(values[i : i+1])[0]
		}
		changed++
	}
	db.counts.Updated += changed
	return &result{changed: changed}, nil
}

func (db *DB) deleteRows(name string, where []string, args []any) (*result, error) {
	t, err := db.table(name)
	if err != nil {
		return nil, err
	}
	whereIdx, err := db.columnIndexes(t, where)
	if err != nil {
		return nil, err
	}

	kept := t.rows[:0]
	var changed int64
	for _, r := range t.rows {
		if matches(r, whereIdx, args) {
			changed++
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	db.counts.Deleted += changed
	return &result{changed: changed}, nil
}

func (db *DB) setConstraint(name string, present bool) (*result, error) {
	current, ok := db.constraints[name]
	if !ok && !present {
		return nil, fmt.Errorf("memdb: no constraint %s", name)
	}
	if ok && current == present {
		verb := "dropped"
		if present {
			verb = "present"
		}
		return nil, fmt.Errorf("memdb: constraint %s already %s", name, verb)
	}
	db.constraints[name] = present
	return &result{}, nil
}

func assignments(parts []string) ([]string, error) {
	columns := make([]string, len(parts))
	for i, p := range parts {
		m := assignmentRe.FindStringSubmatch(strings.TrimSpace(p))
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupported, p)
		}
		columns[i] = m[1]
	}
	return columns, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
