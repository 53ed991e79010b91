// Package sqlutil provides SQL dialect, quoting and identifier helpers.
package sqlutil

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect describes the per-database differences the query layer cares about.
type Dialect struct {
	Name string
	// IdentQuote is the character used to quote identifiers.
	IdentQuote string
	// Placeholder is the squirrel placeholder format for bound arguments.
	Placeholder sq.PlaceholderFormat
	// SupportsForUpdate reports whether SELECT ... FOR UPDATE row locking is available.
	SupportsForUpdate bool
	// SupportsSimilarity reports whether trigram similarity (pg_trgm) is available.
	SupportsSimilarity bool
}

var (
	// Postgres targets PostgreSQL (lib/pq or pgx drivers).
	Postgres = Dialect{
		Name:               "postgres",
		IdentQuote:         `"`,
		Placeholder:        sq.Dollar,
		SupportsForUpdate:  true,
		SupportsSimilarity: true,
	}
	// MySQL targets MySQL and TiDB.
	MySQL = Dialect{
		Name:              "mysql",
		IdentQuote:        "`",
		Placeholder:       sq.Question,
		SupportsForUpdate: true,
	}
	// SQLite targets SQLite.
	SQLite = Dialect{
		Name:        "sqlite",
		IdentQuote:  `"`,
		Placeholder: sq.Question,
	}
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx", "postgresql":
		return Postgres, true
	case "mysql", "tidb":
		return MySQL, true
	case "sqlite", "sqlite3":
		return SQLite, true
	default:
		return Dialect{}, false
	}
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// and escapes any quote characters within the identifier.
func (d Dialect) QuoteIdentifier(name string) string {
	q := d.IdentQuote
	if q == "" {
		q = `"`
	}
	escaped := strings.ReplaceAll(name, q, q+q)
	return q + escaped + q
}

// QualifiedColumn returns alias.column with both parts quoted. An empty alias
// yields the bare quoted column.
func (d Dialect) QualifiedColumn(alias, column string) string {
	if alias == "" {
		return d.QuoteIdentifier(column)
	}
	return d.QuoteIdentifier(alias) + "." + d.QuoteIdentifier(column)
}

// QuoteIdentifier quotes a SQL identifier with backticks, the MySQL convention.
func QuoteIdentifier(name string) string {
	return MySQL.QuoteIdentifier(name)
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
