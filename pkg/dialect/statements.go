package dialect

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// SelectSQL selects columns from a table ordered by the given columns.
func SelectSQL(d Dialect, t *schema.Table, columns, orderBy []string) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(quoteList(d, columns))
	sb.WriteString(" FROM ")
	sb.WriteString(d.Quote(t.Name))
	if len(orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteList(d, orderBy))
	}
	return sb.String()
}

// InsertSQL inserts one row into the given columns.
func InsertSQL(d Dialect, t *schema.Table, columns []string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(t.Name), quoteList(d, columns), strings.Join(marks, ", "))
}

// UpdateSQL sets columns on the row matching the key columns. Arguments are
// the set values followed by the key values.
func UpdateSQL(d Dialect, t *schema.Table, columns, key []string) string {
	set := make([]string, len(columns))
	for i, c := range columns {
		set[i] = d.Quote(c) + " = " + d.Placeholder(i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		d.Quote(t.Name), strings.Join(set, ", "), whereKey(d, key, len(columns)))
}

// DeleteSQL deletes the row matching the key columns.
func DeleteSQL(d Dialect, t *schema.Table, key []string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.Quote(t.Name), whereKey(d, key, 0))
}

// CountSQL selects the number of rows in a table.
func CountSQL(d Dialect, t *schema.Table) string {
	return "SELECT COUNT(*) FROM " + d.Quote(t.Name)
}

// MaxSQL selects the maximum value of a column.
func MaxSQL(d Dialect, t *schema.Table, column string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", d.Quote(column), d.Quote(t.Name))
}

func whereKey(d Dialect, key []string, offset int) string {
	parts := make([]string, len(key))
	for i, c := range key {
		parts[i] = d.Quote(c) + " = " + d.Placeholder(offset+i+1)
	}
	return strings.Join(parts, " AND ")
}

func quoteList(d Dialect, idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = d.Quote(id)
	}
	return strings.Join(quoted, ", ")
}
