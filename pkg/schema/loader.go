package schema

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
)

// Queries are the metadata statements a loader runs. Each must return rows in
// the documented column order; an empty query is skipped.
type Queries struct {
	// Tables: table_name.
	Tables string
	// Columns: table_name, column_name, data_type, is_nullable, is_identity.
	Columns string
	// Keys: table_name, constraint_name, constraint_type, column_name.
	// constraint_type is "PRIMARY KEY" or "UNIQUE".
	Keys string
	// ForeignKeys: table_name, constraint_name, column_name,
	// referenced_table_name, referenced_column_name.
	ForeignKeys string
	// Sequences: sequence_name, increment.
	Sequences string
}

// Loader reads the metadata of one member.
type Loader interface {
	Load(ctx context.Context, q backend.Querier) (*Properties, error)
}

// QueryLoader loads metadata from information_schema style queries.
type QueryLoader struct {
	Queries Queries
}

// NewQueryLoader creates a loader for the given queries.
func NewQueryLoader(queries Queries) *QueryLoader {
	return &QueryLoader{Queries: queries}
}

// Load implements Loader.
func (l *QueryLoader) Load(ctx context.Context, q backend.Querier) (*Properties, error) {
	props := &Properties{}
	byName := make(map[string]*Table)

	rows, err := l.scan(ctx, q, l.Queries.Tables, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	for _, r := range rows {
		t := &Table{Name: backend.String(r[0])}
		byName[t.Name] = t
		props.Tables = append(props.Tables, t)
	}

	rows, err = l.scan(ctx, q, l.Queries.Columns, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	for _, r := range rows {
		t, ok := byName[backend.String(r[0])]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, Column{
			Name:          backend.String(r[1]),
			Type:          backend.String(r[2]),
			Nullable:      backend.Bool(r[3]),
			AutoIncrement: backend.Bool(r[4]),
		})
	}

	rows, err = l.scan(ctx, q, l.Queries.Keys, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	for _, r := range rows {
		t, ok := byName[backend.String(r[0])]
		if !ok {
			continue
		}
		name, column := backend.String(r[1]), backend.String(r[3])
		if backend.String(r[2]) == "PRIMARY KEY" {
			if t.PrimaryKey == nil {
				t.PrimaryKey = &UniqueConstraint{Name: name, Table: t.Name}
			}
			t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, column)
			continue
		}
		if n := len(t.UniqueConstraints); n > 0 && t.UniqueConstraints[n-1].Name == name {
			t.UniqueConstraints[n-1].Columns = append(t.UniqueConstraints[n-1].Columns, column)
			continue
		}
		t.UniqueConstraints = append(t.UniqueConstraints, UniqueConstraint{
			Name: name, Table: t.Name, Columns: []string{column},
		})
	}

	rows, err = l.scan(ctx, q, l.Queries.ForeignKeys, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to load foreign keys: %w", err)
	}
	for _, r := range rows {
		t, ok := byName[backend.String(r[0])]
		if !ok {
			continue
		}
		name := backend.String(r[1])
		n := len(t.ForeignKeys)
		if n == 0 || t.ForeignKeys[n-1].Name != name {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKeyConstraint{
				Name: name, Table: t.Name, ReferencedTable: backend.String(r[3]),
			})
			n++
		}
		fk := &t.ForeignKeys[n-1]
		fk.Columns = append(fk.Columns, backend.String(r[2]))
		fk.ReferencedColumns = append(fk.ReferencedColumns, backend.String(r[4]))
	}

	rows, err = l.scan(ctx, q, l.Queries.Sequences, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to load sequences: %w", err)
	}
	for _, r := range rows {
		seq := Sequence{Name: backend.String(r[0])}
		if r[1] != nil {
			if seq.Increment, err = backend.Int64(r[1]); err != nil {
				return nil, fmt.Errorf("sequence %s increment: %w", seq.Name, err)
			}
		}
		props.Sequences = append(props.Sequences, seq)
	}

	return props, nil
}

func (l *QueryLoader) scan(ctx context.Context, q backend.Querier, sql string, width int) ([][]any, error) {
	if sql == "" {
		return nil, nil
	}
	rows, err := backend.Scan(ctx, q, sql)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if len(r) < width {
			return nil, fmt.Errorf("expected %d columns, got %d", width, len(r))
		}
	}
	return rows, nil
}
