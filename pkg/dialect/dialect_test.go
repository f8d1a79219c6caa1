package dialect

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

var accounts = &schema.Table{
	Name: "accounts",
	Columns: []schema.Column{
		{Name: "id", Type: "integer"},
		{Name: "balance", Type: "integer", Nullable: true},
		{Name: "photo", Type: "bytea", Nullable: true},
	},
	PrimaryKey: &schema.UniqueConstraint{Name: "accounts_pkey", Table: "accounts", Columns: []string{"id"}},
}

func TestGet(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"memdb", "standard"},
		{"pgx", "postgres"},
		{"postgresql", "postgres"},
		{"mysql", "mysql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}

	_, err := Get("oracle")
	assert.True(t, errors.Is(err, ErrUnknownDialect))
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name string
		d    Dialect
		got  func(Dialect) string
		want string
	}{
		{
			name: "standard select",
			d:    Standard(),
			got: func(d Dialect) string {
				return SelectSQL(d, accounts, accounts.ColumnNames(), accounts.KeyColumns())
			},
			want: `SELECT "id", "balance", "photo" FROM "accounts" ORDER BY "id"`,
		},
		{
			name: "mysql count",
			d:    MySQL(),
			got:  func(d Dialect) string { return CountSQL(d, accounts) },
			want: "SELECT COUNT(*) FROM `accounts`",
		},
		{
			name: "postgres insert",
			d:    Postgres(),
			got:  func(d Dialect) string { return InsertSQL(d, accounts, []string{"id", "balance"}) },
			want: `INSERT INTO "accounts" ("id", "balance") VALUES ($1, $2)`,
		},
		{
			name: "postgres update numbers keys after values",
			d:    Postgres(),
			got:  func(d Dialect) string { return UpdateSQL(d, accounts, []string{"balance", "photo"}, []string{"id"}) },
			want: `UPDATE "accounts" SET "balance" = $1, "photo" = $2 WHERE "id" = $3`,
		},
		{
			name: "mysql delete",
			d:    MySQL(),
			got:  func(d Dialect) string { return DeleteSQL(d, accounts, []string{"id"}) },
			want: "DELETE FROM `accounts` WHERE `id` = ?",
		},
		{
			name: "standard max",
			d:    Standard(),
			got:  func(d Dialect) string { return MaxSQL(d, accounts, "id") },
			want: `SELECT MAX("id") FROM "accounts"`,
		},
		{
			name: "standard truncate",
			d:    Standard(),
			got:  func(d Dialect) string { return d.TruncateTableSQL(accounts) },
			want: `DELETE FROM "accounts"`,
		},
		{
			name: "postgres truncate",
			d:    Postgres(),
			got:  func(d Dialect) string { return d.TruncateTableSQL(accounts) },
			want: `TRUNCATE TABLE "accounts"`,
		},
		{
			name: "mysql identity",
			d:    MySQL(),
			got:  func(d Dialect) string { return d.AlterIdentityColumnSQL(accounts, "id", 7) },
			want: "ALTER TABLE `accounts` AUTO_INCREMENT = 7",
		},
		{
			name: "standard identity",
			d:    Standard(),
			got:  func(d Dialect) string { return d.AlterIdentityColumnSQL(accounts, "id", 7) },
			want: `ALTER TABLE "accounts" ALTER COLUMN "id" RESTART WITH 7`,
		},
		{
			name: "standard sequence",
			d:    Standard(),
			got:  func(d Dialect) string { return d.AlterSequenceSQL(schema.Sequence{Name: "seq"}, 11) },
			want: `ALTER SEQUENCE "seq" RESTART WITH 11`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got(tt.d))
		})
	}
}

func TestConstraintStatements(t *testing.T) {
	fk := schema.ForeignKeyConstraint{
		Name: "fk_account", Table: "transfers", Columns: []string{"account_id"},
		ReferencedTable: "accounts", ReferencedColumns: []string{"id"},
	}
	uc := schema.UniqueConstraint{Name: "uq_email", Table: "accounts", Columns: []string{"email"}}

	assert.Equal(t, `ALTER TABLE "transfers" DROP CONSTRAINT "fk_account"`, Standard().DropForeignKeySQL(fk))
	assert.Equal(t,
		`ALTER TABLE "transfers" ADD CONSTRAINT "fk_account" FOREIGN KEY ("account_id") REFERENCES "accounts" ("id")`,
		Postgres().CreateForeignKeySQL(fk))
	assert.Equal(t, "ALTER TABLE `transfers` DROP FOREIGN KEY `fk_account`", MySQL().DropForeignKeySQL(fk))
	assert.Equal(t, "ALTER TABLE `accounts` DROP INDEX `uq_email`", MySQL().DropUniqueConstraintSQL(uc))
	assert.Equal(t, `ALTER TABLE "accounts" ADD CONSTRAINT "uq_email" UNIQUE ("email")`, Standard().CreateUniqueConstraintSQL(uc))
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"a""b"`, Standard().Quote(`a"b`))
	assert.Equal(t, "`a``b`", MySQL().Quote("a`b"))
}

func TestPostgresSequenceValueDoesNotAdvance(t *testing.T) {
	sql := Postgres().SequenceValueSQL(schema.Sequence{Name: "o'seq"})
	assert.NotContains(t, sql, "nextval")
	assert.Contains(t, sql, "'o''seq'")
}

func TestVendorCapabilities(t *testing.T) {
	assert.True(t, Postgres().SupportsSequences())
	assert.False(t, MySQL().SupportsSequences())
	assert.True(t, Postgres().IsLargeObject(schema.Column{Type: "BYTEA"}))
	assert.False(t, Postgres().IsLargeObject(schema.Column{Type: "integer"}))
	assert.True(t, MySQL().IsLargeObject(schema.Column{Type: "longblob"}))
	assert.Equal(t, "SELECT 1", MySQL().ProbeSQL())

	q := MySQL().MetadataQueries()
	assert.Empty(t, q.Sequences)
	assert.True(t, strings.Contains(q.Columns, "auto_increment"))
	assert.NotEmpty(t, Postgres().MetadataQueries().Sequences)
}
