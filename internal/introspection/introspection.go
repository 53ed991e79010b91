// Package introspection reads table and column metadata from a live database
// and verifies the model declarations against it.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/sqlutil"
)

// Column represents a database column
type Column struct {
	Name         string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
}

// Table represents a database table. A table that does not exist has no
// columns.
type Table struct {
	Name    string
	Columns []Column
}

// Exists reports whether the table was found.
func (t Table) Exists() bool {
	return len(t.Columns) > 0
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKeys lists the primary key columns in ordinal order.
func (t Table) PrimaryKeys() []string {
	var out []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

// ReadTables loads the named tables from the connected database. MySQL and
// Postgres are read from information_schema in the current schema; SQLite
// from PRAGMA table_info.
func ReadTables(ctx context.Context, db dbexec.QueryExecutor, dialect sqlutil.Dialect, names []string) (map[string]Table, error) {
	ctx, span := startSpan(ctx, "introspection.read_tables",
		attribute.String("db.system", dialect.Name),
		attribute.Int("db.tables", len(names)),
	)
	defer span.End()

	out := make(map[string]Table, len(names))
	for _, name := range names {
		if _, ok := out[name]; ok {
			continue
		}
		columns, err := getColumns(ctx, db, dialect, name)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get columns for %s: %w", name, err)
		}
		out[name] = Table{Name: name, Columns: columns}
	}
	return out, nil
}

func getColumns(ctx context.Context, db dbexec.QueryExecutor, dialect sqlutil.Dialect, table string) ([]Column, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns",
		attribute.String("db.table", table),
	)
	defer span.End()

	var (
		columns []Column
		err     error
	)
	switch dialect.Name {
	case sqlutil.MySQL.Name:
		columns, err = mysqlColumns(ctx, db, table)
	case sqlutil.Postgres.Name:
		columns, err = postgresColumns(ctx, db, table)
	case sqlutil.SQLite.Name:
		columns, err = sqliteColumns(ctx, db, dialect, table)
	default:
		err = fmt.Errorf("introspection is not supported for %s", dialect.Name)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

func mysqlColumns(ctx context.Context, db dbexec.QueryExecutor, table string) ([]Column, error) {
	query := `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	return scanInformationSchema(ctx, db, query, table)
}

func postgresColumns(ctx context.Context, db dbexec.QueryExecutor, table string) ([]Column, error) {
	query := `
		SELECT c.column_name, c.data_type, c.is_nullable,
			CASE WHEN pk.column_name IS NULL THEN '' ELSE 'PRI' END
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = current_schema() AND tc.table_name = $1
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position
	`
	return scanInformationSchema(ctx, db, query, table)
}

func scanInformationSchema(ctx context.Context, db dbexec.QueryExecutor, query, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []Column
	for rows.Next() {
		var col Column
		var isNullable, key string
		if err := rows.Scan(&col.Name, &col.DataType, &isNullable, &key); err != nil {
			return nil, err
		}
		col.IsNullable = strings.EqualFold(isNullable, "YES")
		col.IsPrimaryKey = strings.EqualFold(key, "PRI")
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func sqliteColumns(ctx context.Context, db dbexec.QueryExecutor, dialect sqlutil.Dialect, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+dialect.QuoteIdentifier(table)+")")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []Column
	for rows.Next() {
		var (
			cid      int
			col      Column
			notNull  int
			dfltExpr sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &col.Name, &col.DataType, &notNull, &dfltExpr, &pk); err != nil {
			return nil, err
		}
		col.IsNullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("dreamorm/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
