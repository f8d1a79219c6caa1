package dialect

import (
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

type standard struct{ base }

// Standard returns the ANSI dialect with "?" placeholders. The in-memory
// backend speaks it.
func Standard() Dialect {
	return &standard{base{
		name:      "standard",
		quote:     `"`,
		sequences: true,
		lobTypes:  []string{"blob", "clob", "binary large object", "character large object"},
	}}
}

type postgres struct{ base }

// Postgres returns the PostgreSQL dialect.
func Postgres() Dialect {
	return &postgres{base{
		name:      "postgres",
		quote:     `"`,
		numbered:  true,
		sequences: true,
		lobTypes:  []string{"bytea", "oid"},
	}}
}

func (d *postgres) TruncateTableSQL(t *schema.Table) string {
	return "TRUNCATE TABLE " + d.Quote(t.Name)
}

func (d *postgres) SequenceValueSQL(seq schema.Sequence) string {
	return "SELECT COALESCE(last_value, start_value - increment_by) FROM pg_sequences" +
		" WHERE schemaname = current_schema() AND sequencename = " + literal(seq.Name)
}

func (d *postgres) MetadataQueries() schema.Queries {
	return schema.Queries{
		Tables: `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
		Columns: `SELECT table_name, column_name, data_type, is_nullable, is_identity
FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`,
		Keys: `SELECT tc.table_name, tc.constraint_name, tc.constraint_type, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
WHERE tc.table_schema = current_schema() AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`,
		ForeignKeys: `SELECT kcu.table_name, kcu.constraint_name, kcu.column_name, pk.table_name, pk.column_name
FROM information_schema.referential_constraints rc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = rc.constraint_schema AND kcu.constraint_name = rc.constraint_name
JOIN information_schema.key_column_usage pk
  ON pk.constraint_schema = rc.unique_constraint_schema AND pk.constraint_name = rc.unique_constraint_name
 AND pk.ordinal_position = kcu.position_in_unique_constraint
WHERE rc.constraint_schema = current_schema()
ORDER BY kcu.table_name, kcu.constraint_name, kcu.ordinal_position`,
		Sequences: `SELECT sequence_name, increment FROM information_schema.sequences
WHERE sequence_schema = current_schema()
ORDER BY sequence_name`,
	}
}

type mysql struct{ base }

// MySQL returns the MySQL dialect. MySQL has no named sequences; identity
// columns are AUTO_INCREMENT.
func MySQL() Dialect {
	return &mysql{base{
		name:     "mysql",
		quote:    "`",
		lobTypes: []string{"blob", "tinyblob", "mediumblob", "longblob", "text", "mediumtext", "longtext"},
	}}
}

func (d *mysql) TruncateTableSQL(t *schema.Table) string {
	return "TRUNCATE TABLE " + d.Quote(t.Name)
}

func (d *mysql) DropForeignKeySQL(fk schema.ForeignKeyConstraint) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.Quote(fk.Table), d.Quote(fk.Name))
}

func (d *mysql) DropUniqueConstraintSQL(uc schema.UniqueConstraint) string {
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", d.Quote(uc.Table), d.Quote(uc.Name))
}

func (d *mysql) AlterIdentityColumnSQL(t *schema.Table, _ string, value int64) string {
	return fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", d.Quote(t.Name), value)
}

func (d *mysql) MetadataQueries() schema.Queries {
	return schema.Queries{
		Tables: `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
		Columns: `SELECT table_name, column_name, data_type, is_nullable, extra LIKE '%auto_increment%'
FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`,
		Keys: `SELECT tc.table_name, tc.constraint_name, tc.constraint_type, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
 AND kcu.table_name = tc.table_name
WHERE tc.table_schema = DATABASE() AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`,
		ForeignKeys: `SELECT table_name, constraint_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL
ORDER BY table_name, constraint_name, ordinal_position`,
	}
}
