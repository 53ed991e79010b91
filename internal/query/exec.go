package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/record"
	"dreamorm/internal/registry"
)

func (q Query) executor() (dbexec.QueryExecutor, error) {
	if q.tx != nil {
		return q.tx, nil
	}
	if exec := q.env.Pool.For(q.conn); exec != nil {
		return exec, nil
	}
	return nil, fmt.Errorf("no %s connection configured", q.conn)
}

func (q Query) check() error {
	if q.err != nil {
		return q.err
	}
	if q.model == nil {
		return errors.New("query has no model")
	}
	return nil
}

func (q Query) queryMaps(ctx context.Context, op string, stmt sq.Sqlizer) ([]map[string]any, error) {
	sqlText, args, err := q.render(stmt)
	if err != nil {
		return nil, &Error{Op: op, Model: q.model.Name, Err: err}
	}
	ctx, span := startQuerySpan(ctx, "dreamorm.query."+op,
		attribute.String("dreamorm.model", q.model.Name),
		attribute.String("db.statement", sqlText),
	)
	defer span.End()

	started := time.Now()
	rows, err := q.scan(ctx, sqlText, args)
	q.env.observe(ctx, op, q.model.Name, sqlText, started, len(rows), err)
	finishQuerySpan(span, err, "")
	if err != nil {
		return nil, &Error{Op: op, Model: q.model.Name, SQL: sqlText, Args: args, Err: err}
	}
	return rows, nil
}

func (q Query) scan(ctx context.Context, sqlText string, args []any) ([]map[string]any, error) {
	exec, err := q.executor()
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = record.NormalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (q Query) execStatement(ctx context.Context, op string, stmt sq.Sqlizer) (sql.Result, error) {
	sqlText, args, err := q.render(stmt)
	if err != nil {
		return nil, &Error{Op: op, Model: q.model.Name, Err: err}
	}
	ctx, span := startQuerySpan(ctx, "dreamorm.query."+op,
		attribute.String("dreamorm.model", q.model.Name),
		attribute.String("db.statement", sqlText),
	)
	defer span.End()

	started := time.Now()
	var result sql.Result
	exec, err := q.executor()
	if err == nil {
		result, err = exec.ExecContext(ctx, sqlText, args...)
	}
	q.env.observe(ctx, op, q.model.Name, sqlText, started, -1, err)
	finishQuerySpan(span, err, "")
	if err != nil {
		return nil, &Error{Op: op, Model: q.model.Name, SQL: sqlText, Args: args, Err: err}
	}
	return result, nil
}

// hydrate materializes rows as records of their concrete model.
func (q Query) hydrate(rows []map[string]any) ([]*record.Record, error) {
	records := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		m, err := q.env.Types.ConcreteModel(q.model.Name, row)
		if err != nil {
			return nil, err
		}
		records = append(records, record.New(m, row))
	}
	return records, nil
}

// fetch runs the select without preloads.
func (q Query) fetch(ctx context.Context, op string) ([]*record.Record, error) {
	t, _, err := q.buildTree(false)
	if err != nil {
		return nil, err
	}
	b, err := q.selectBuilder(t, q.env.Dialect.QuoteIdentifier(t.baseAlias)+".*")
	if err != nil {
		return nil, err
	}
	if b, err = q.orderBy(t, b, q.orderTerms()); err != nil {
		return nil, err
	}
	rows, err := q.queryMaps(ctx, op, q.window(b))
	if err != nil {
		return nil, err
	}
	return q.hydrate(rows)
}

// All returns every matching record with the requested preloads applied.
func (q Query) All(ctx context.Context) ([]*record.Record, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	var (
		records []*record.Record
		err     error
	)
	if len(q.leftJoinPreloads) > 0 {
		records, err = q.leftJoinPreloaded(ctx)
	} else {
		records, err = q.fetch(ctx, "select")
	}
	if err != nil {
		return nil, err
	}
	if err := q.Load(ctx, records...); err != nil {
		return nil, err
	}
	return records, nil
}

// First returns the first record in primary key order (or the query's own
// order), or nil when nothing matches.
func (q Query) First(ctx context.Context) (*record.Record, error) {
	records, err := q.Limit(1).All(ctx)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// Last returns the last record: the query's order reversed, or primary key
// descending when unordered.
func (q Query) Last(ctx context.Context) (*record.Record, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	terms := q.orderTerms()
	reversed := make([]registry.OrderTerm, len(terms))
	for i, term := range terms {
		reversed[i] = registry.OrderTerm{Column: term.Column, Desc: !term.Desc}
	}
	q.orders = reversed
	return q.First(ctx)
}

// Find returns the record with primary key pk, or nil.
func (q Query) Find(ctx context.Context, pk any) (*record.Record, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	return q.Where(map[string]any{q.model.PrimaryKey: pk}).First(ctx)
}

// FindBy returns the first record matching conds, or nil.
func (q Query) FindBy(ctx context.Context, conds map[string]any) (*record.Record, error) {
	return q.Where(conds).First(ctx)
}

// FindOrFail is Find returning ErrRecordNotFound instead of nil.
func (q Query) FindOrFail(ctx context.Context, pk any) (*record.Record, error) {
	rec, err := q.Find(ctx, pk)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %v: %w", q.model.Name, pk, ErrRecordNotFound)
	}
	return rec, nil
}

// FirstOrFail is First returning ErrRecordNotFound instead of nil.
func (q Query) FirstOrFail(ctx context.Context) (*record.Record, error) {
	rec, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", q.model.Name, ErrRecordNotFound)
	}
	return rec, nil
}

// Count returns the number of matching records. Joined queries count
// distinct primary keys so fan-out does not inflate the result.
func (q Query) Count(ctx context.Context) (int64, error) {
	if err := q.check(); err != nil {
		return 0, err
	}
	t, _, err := q.buildTree(false)
	if err != nil {
		return 0, err
	}
	d := q.env.Dialect
	expr := "COUNT(*)"
	if len(t.nodes) > 0 || q.distinct {
		expr = "COUNT(DISTINCT " + d.QualifiedColumn(t.baseAlias, q.model.PrimaryKey) + ")"
	}
	counted := q
	counted.distinct = false
	b, err := counted.selectBuilder(t, expr+" AS "+d.QuoteIdentifier("count"))
	if err != nil {
		return 0, err
	}
	rows, err := q.queryMaps(ctx, "count", b)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["count"])
}

// Exists reports whether any record matches.
func (q Query) Exists(ctx context.Context) (bool, error) {
	if err := q.check(); err != nil {
		return false, err
	}
	t, _, err := q.buildTree(false)
	if err != nil {
		return false, err
	}
	b, err := q.selectBuilder(t, "1")
	if err != nil {
		return false, err
	}
	rows, err := q.queryMaps(ctx, "exists", b.Limit(1))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Pluck returns one column of every matching row, in query order. column
// may be qualified by a join alias.
func (q Query) Pluck(ctx context.Context, column string) ([]any, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	t, _, err := q.buildTree(false)
	if err != nil {
		return nil, err
	}
	qualified, err := q.qualify(t, t.baseAlias, column)
	if err != nil {
		return nil, err
	}
	b, err := q.selectBuilder(t, qualified+" AS "+q.env.Dialect.QuoteIdentifier("pluck"))
	if err != nil {
		return nil, err
	}
	if b, err = q.orderBy(t, b, q.orderTerms()); err != nil {
		return nil, err
	}
	rows, err := q.queryMaps(ctx, "pluck", q.window(b))
	if err != nil {
		return nil, err
	}
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row["pluck"]
	}
	return values, nil
}

// targetFilter returns the WHERE clause restricting an UPDATE or DELETE to
// the query's rows. Joined or windowed queries select primary keys in a
// subquery.
func (q Query) targetFilter() (sq.Sqlizer, error) {
	t, _, err := q.buildTree(false)
	if err != nil {
		return nil, err
	}
	if len(t.nodes) == 0 && !q.hasWindow() {
		where, err := q.whereClauses(t)
		if err != nil {
			return nil, err
		}
		return sq.And(where), nil
	}

	d := q.env.Dialect
	pk := d.QualifiedColumn(t.baseAlias, q.model.PrimaryKey)
	sub, err := q.selectBuilder(t, pk)
	if err != nil {
		return nil, err
	}
	if q.hasWindow() {
		if sub, err = q.orderBy(t, sub, q.orderTerms()); err != nil {
			return nil, err
		}
		sub = q.window(sub)
	}
	var inner sq.Sqlizer = sub
	if d.Name == "mysql" {
		// MySQL cannot select from the table being modified in a subquery
		inner = sq.Select(d.QualifiedColumn("dream_ids", q.model.PrimaryKey)).FromSelect(sub, "dream_ids")
	}
	return sq.Expr(pk+" IN (?)", inner), nil
}

// UpdateAll sets attrs on every matching row and returns the affected count.
func (q Query) UpdateAll(ctx context.Context, attrs map[string]any) (int64, error) {
	if err := q.check(); err != nil {
		return 0, err
	}
	if len(attrs) == 0 {
		return 0, errors.New("UpdateAll requires at least one attribute")
	}
	d := q.env.Dialect
	filter, err := q.targetFilter()
	if err != nil {
		return 0, err
	}
	set := make(map[string]any, len(attrs))
	for column, value := range attrs {
		set[d.QuoteIdentifier(column)] = value
	}
	b := sq.Update(d.QuoteIdentifier(q.model.Table)).SetMap(set).Where(filter)
	result, err := q.execStatement(ctx, "update", b)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAll deletes every matching row and returns the affected count.
func (q Query) DeleteAll(ctx context.Context) (int64, error) {
	if err := q.check(); err != nil {
		return 0, err
	}
	filter, err := q.targetFilter()
	if err != nil {
		return 0, err
	}
	b := sq.Delete(q.env.Dialect.QuoteIdentifier(q.model.Table)).Where(filter)
	result, err := q.execStatement(ctx, "delete", b)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Insert writes one row and returns it as a record. STI models get their
// discriminator filled in when attrs leave it out.
func (q Query) Insert(ctx context.Context, attrs map[string]any) (*record.Record, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	values := maps.Clone(attrs)
	if values == nil {
		values = map[string]any{}
	}
	if q.model.IsSTI() {
		if _, ok := values[q.model.TypeColumn]; !ok {
			values[q.model.TypeColumn] = q.model.Name
		}
	}

	d := q.env.Dialect
	columns := slices.Collect(maps.Keys(values))
	sort.Strings(columns)
	quoted := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, column := range columns {
		quoted[i] = d.QuoteIdentifier(column)
		args[i] = values[column]
	}
	b := sq.Insert(d.QuoteIdentifier(q.model.Table)).Columns(quoted...).Values(args...)

	if d.Name == "postgres" {
		rows, err := q.queryMaps(ctx, "insert", b.Suffix("RETURNING *"))
		if err != nil {
			return nil, err
		}
		records, err := q.hydrate(rows)
		if err != nil || len(records) == 0 {
			return nil, err
		}
		return records[0], nil
	}

	result, err := q.execStatement(ctx, "insert", b)
	if err != nil {
		return nil, err
	}
	if values[q.model.PrimaryKey] == nil {
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert %s: reading generated key: %w", q.model.Name, err)
		}
		values[q.model.PrimaryKey] = id
	}
	m, err := q.env.Types.ConcreteModel(q.model.Name, values)
	if err != nil {
		return nil, err
	}
	return record.New(m, values), nil
}

// toInt64 reads a COUNT(*) value; MySQL drivers may hand it back as text.
func toInt64(v any) (int64, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("unexpected count value %v (%T): %w", v, v, err)
	}
	return n, nil
}

// ToSQL renders the root SELECT that All would run. Preload queries are
// issued separately and are not included.
func (q Query) ToSQL() (string, []any, error) {
	if err := q.check(); err != nil {
		return "", nil, err
	}
	t, _, err := q.buildTree(false)
	if err != nil {
		return "", nil, err
	}
	b, err := q.selectBuilder(t, q.env.Dialect.QuoteIdentifier(t.baseAlias)+".*")
	if err != nil {
		return "", nil, err
	}
	if b, err = q.orderBy(t, b, q.orderTerms()); err != nil {
		return "", nil, err
	}
	return q.render(q.window(b))
}
