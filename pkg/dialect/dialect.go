// Package dialect generates the vendor specific SQL the synchronization
// strategies and the liveness probe need.
package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// ErrUnknownDialect is returned by Get for unregistered names.
var ErrUnknownDialect = errors.New("unknown dialect")

// Dialect generates SQL text for one database vendor.
type Dialect interface {
	Name() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// Placeholder returns the n-th (1 based) positional parameter marker.
	Placeholder(n int) string

	TruncateTableSQL(t *schema.Table) string
	DropForeignKeySQL(fk schema.ForeignKeyConstraint) string
	CreateForeignKeySQL(fk schema.ForeignKeyConstraint) string
	DropUniqueConstraintSQL(uc schema.UniqueConstraint) string
	CreateUniqueConstraintSQL(uc schema.UniqueConstraint) string

	// SupportsSequences reports whether the vendor has named sequences.
	SupportsSequences() bool
	// SequenceValueSQL reads the last value issued by a sequence without
	// advancing it. The statement returns one row with one column.
	SequenceValueSQL(seq schema.Sequence) string
	// AlterSequenceSQL makes value the next value the sequence issues.
	AlterSequenceSQL(seq schema.Sequence, value int64) string
	// AlterIdentityColumnSQL makes value the next generated identity value.
	AlterIdentityColumnSQL(t *schema.Table, column string, value int64) string

	// IsLargeObject reports whether a column holds binary or character
	// large objects.
	IsLargeObject(c schema.Column) bool
	// ProbeSQL is a trivial statement that always succeeds on a live member.
	ProbeSQL() string
	// MetadataQueries describe the current schema of a connection.
	MetadataQueries() schema.Queries
}

// Get returns a dialect by name. Driver names map to their vendor dialect.
func Get(name string) (Dialect, error) {
	switch name {
	case "standard", "memdb":
		return Standard(), nil
	case "postgres", "postgresql", "pgx":
		return Postgres(), nil
	case "mysql", "mariadb":
		return MySQL(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

// base implements the ANSI flavoured statements shared by every vendor.
type base struct {
	name      string
	quote     string
	numbered  bool
	sequences bool
	lobTypes  []string
}

func (d *base) Name() string { return d.name }

func (d *base) Quote(ident string) string {
	return d.quote + strings.ReplaceAll(ident, d.quote, d.quote+d.quote) + d.quote
}

func (d *base) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d *base) quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = d.Quote(id)
	}
	return strings.Join(quoted, ", ")
}

func (d *base) TruncateTableSQL(t *schema.Table) string {
	return "DELETE FROM " + d.Quote(t.Name)
}

func (d *base) DropForeignKeySQL(fk schema.ForeignKeyConstraint) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", d.Quote(fk.Table), d.Quote(fk.Name))
}

func (d *base) CreateForeignKeySQL(fk schema.ForeignKeyConstraint) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.Quote(fk.Table), d.Quote(fk.Name), d.quoteAll(fk.Columns),
		d.Quote(fk.ReferencedTable), d.quoteAll(fk.ReferencedColumns))
}

func (d *base) DropUniqueConstraintSQL(uc schema.UniqueConstraint) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", d.Quote(uc.Table), d.Quote(uc.Name))
}

func (d *base) CreateUniqueConstraintSQL(uc schema.UniqueConstraint) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		d.Quote(uc.Table), d.Quote(uc.Name), d.quoteAll(uc.Columns))
}

func (d *base) SupportsSequences() bool { return d.sequences }

func (d *base) SequenceValueSQL(seq schema.Sequence) string {
	return "SELECT CURRENT VALUE FOR " + d.Quote(seq.Name)
}

func (d *base) AlterSequenceSQL(seq schema.Sequence, value int64) string {
	return fmt.Sprintf("ALTER SEQUENCE %s RESTART WITH %d", d.Quote(seq.Name), value)
}

func (d *base) AlterIdentityColumnSQL(t *schema.Table, column string, value int64) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s RESTART WITH %d", d.Quote(t.Name), d.Quote(column), value)
}

func (d *base) IsLargeObject(c schema.Column) bool {
	typ := strings.ToLower(c.Type)
	for _, lob := range d.lobTypes {
		if typ == lob {
			return true
		}
	}
	return false
}

func (d *base) ProbeSQL() string { return "SELECT 1" }

func (d *base) MetadataQueries() schema.Queries { return schema.Queries{} }

// literal renders a string literal.
func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
