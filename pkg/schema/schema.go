// Package schema holds immutable per-member metadata snapshots used to
// generate reconciliation statements.
package schema

import "slices"

// Column describes one table column.
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	AutoIncrement bool
}

// UniqueConstraint is a primary key or unique constraint.
type UniqueConstraint struct {
	Name    string
	Table   string
	Columns []string
}

// ForeignKeyConstraint references the key of another table.
type ForeignKeyConstraint struct {
	Name              string
	Table             string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// Sequence is a named sequence generator.
type Sequence struct {
	Name      string
	Increment int64
}

// Step returns the increment, treating an unknown increment as 1.
func (s Sequence) Step() int64 {
	if s.Increment == 0 {
		return 1
	}
	return s.Increment
}

// Table is a table definition. PrimaryKey is nil when the table has none.
type Table struct {
	Name              string
	Columns           []Column
	PrimaryKey        *UniqueConstraint
	UniqueConstraints []UniqueConstraint
	ForeignKeys       []ForeignKeyConstraint
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns every column name in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumns returns the primary key columns, or nil.
func (t *Table) KeyColumns() []string {
	if t.PrimaryKey == nil {
		return nil
	}
	return t.PrimaryKey.Columns
}

// NonKeyColumns returns the columns outside the primary key in table order.
func (t *Table) NonKeyColumns() []string {
	key := t.KeyColumns()
	var out []string
	for _, c := range t.Columns {
		if !slices.Contains(key, c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// IdentityColumns returns the auto increment columns.
func (t *Table) IdentityColumns() []string {
	var out []string
	for _, c := range t.Columns {
		if c.AutoIncrement {
			out = append(out, c.Name)
		}
	}
	return out
}

// Properties is the metadata of one member, stable for one synchronization.
type Properties struct {
	Tables    []*Table
	Sequences []Sequence
}

// Table looks up a table by name.
func (p *Properties) Table(name string) (*Table, bool) {
	for _, t := range p.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// ForeignKeys returns every foreign key across all tables.
func (p *Properties) ForeignKeys() []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	for _, t := range p.Tables {
		out = append(out, t.ForeignKeys...)
	}
	return out
}
