// Package sortable keeps a dense 1..N position column per scope across
// create, update and destroy. Every operation runs inside a caller-supplied
// transaction.
package sortable

import (
	"context"
	"errors"
	"fmt"
	"maps"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/logging"
	"dreamorm/internal/ops"
	"dreamorm/internal/query"
	"dreamorm/internal/record"
	"dreamorm/internal/registry"
)

// ErrTransactionRequired is returned when an operation is called without a
// transaction handle.
var ErrTransactionRequired = errors.New("sortable: operation requires a transaction")

// pending is written while a row's final position is being computed, so the
// row never collides with a positioned neighbour.
const pending = 0

// Config declares one sortable column.
type Config struct {
	Model  string
	Column string
	// Scope lists the columns that partition the ordering, e.g. a foreign key.
	Scope []string
}

// Engine maintains the positions of one sortable column.
type Engine struct {
	env    *query.Env
	model  *registry.Model
	column string
	scope  []string
	logger *logging.Logger
}

// New validates cfg against the environment's registry. STI models share the
// position column of their root.
func New(env *query.Env, cfg Config) (*Engine, error) {
	root, err := env.Registry.Root(cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.Column == "" {
		return nil, fmt.Errorf("sortable %s: column is required", cfg.Model)
	}
	for _, col := range append([]string{cfg.Column}, cfg.Scope...) {
		if len(root.Columns) > 0 && !root.HasColumn(col) {
			return nil, fmt.Errorf("sortable %s: unknown column %q", root.Name, col)
		}
	}
	return &Engine{
		env:    env,
		model:  root,
		column: cfg.Column,
		scope:  cfg.Scope,
		logger: env.Logger.WithModel(root.Name),
	}, nil
}

// Column returns the managed position column.
func (e *Engine) Column() string {
	return e.column
}

// Create inserts a row and places it at the requested position, or last when
// none is given. Rows at or after the position move down by one.
func (e *Engine) Create(ctx context.Context, tx dbexec.TxExecutor, model string, attrs map[string]any) (*record.Record, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	requested, err := requestedPosition(attrs, e.column)
	if err != nil {
		return nil, err
	}
	values := maps.Clone(attrs)
	if values == nil {
		values = map[string]any{}
	}
	values[e.column] = pending

	rec, err := e.env.Query(model).Txn(tx).Insert(ctx, values)
	if err != nil {
		return nil, err
	}
	scope := e.scopeOf(rec.Attributes())
	if err := e.place(ctx, tx, rec, scope, requested); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update writes attrs to rec's row and repositions it when the position or
// the scope changes. Moving to another scope closes the gap left behind and
// places the row as if it were new.
func (e *Engine) Update(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record, attrs map[string]any) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	requested, err := requestedPosition(attrs, e.column)
	if err != nil {
		return err
	}
	current, err := position(rec.Get(e.column))
	if err != nil {
		return err
	}
	oldScope := e.scopeOf(rec.Attributes())
	merged := rec.Attributes()
	maps.Copy(merged, attrs)
	newScope := e.scopeOf(merged)
	scopeChanged := !sameScope(oldScope, newScope)

	values := maps.Clone(attrs)
	delete(values, e.column)
	if !scopeChanged && (requested == nil || *requested == current) {
		if len(values) == 0 {
			return nil
		}
		if err := e.updateRow(ctx, tx, rec, values); err != nil {
			return err
		}
		assign(rec, values)
		return nil
	}

	if values == nil {
		values = map[string]any{}
	}
	values[e.column] = pending
	if err := e.updateRow(ctx, tx, rec, values); err != nil {
		return err
	}
	assign(rec, values)

	if scopeChanged {
		if err := e.closeGap(ctx, tx, rec, oldScope, current); err != nil {
			return err
		}
		return e.place(ctx, tx, rec, newScope, requested)
	}
	return e.move(ctx, tx, rec, newScope, current, *requested)
}

// Destroy deletes rec's row and closes the gap it leaves.
func (e *Engine) Destroy(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	current, err := position(rec.Get(e.column))
	if err != nil {
		return err
	}
	scope := e.scopeOf(rec.Attributes())
	if _, err := e.lock(ctx, tx, scope, rec.PrimaryKey()); err != nil {
		return err
	}
	n, err := e.base(tx).Where(map[string]any{e.model.PrimaryKey: rec.PrimaryKey()}).DeleteAll(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sortable %s: destroy %v: %w", e.model.Name, rec.PrimaryKey(), query.ErrRecordNotFound)
	}
	return e.closeGap(ctx, tx, rec, scope, current)
}

// place positions a row that holds the pending sentinel, shifting rows at or
// after the target down by one.
func (e *Engine) place(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record, scope map[string]any, requested *int64) error {
	others, err := e.lock(ctx, tx, scope, rec.PrimaryKey())
	if err != nil {
		return err
	}
	target := others + 1
	if requested != nil {
		target = clamp(*requested, 1, others+1)
	}
	if target <= others {
		if err := e.shift(ctx, tx, scope, rec.PrimaryKey(), ops.GreaterThanOrEqual(target), +1); err != nil {
			return err
		}
	}
	return e.finish(ctx, tx, rec, target)
}

// move repositions a row within its scope. Rows between the old and new
// positions shift by one towards the vacated slot.
func (e *Engine) move(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record, scope map[string]any, from, requested int64) error {
	others, err := e.lock(ctx, tx, scope, rec.PrimaryKey())
	if err != nil {
		return err
	}
	to := clamp(requested, 1, others+1)
	switch {
	case to < from:
		err = e.shift(ctx, tx, scope, rec.PrimaryKey(), ops.Range(to, from-1), +1)
	case to > from:
		err = e.shift(ctx, tx, scope, rec.PrimaryKey(), ops.Range(from+1, to), -1)
	}
	if err != nil {
		return err
	}
	return e.finish(ctx, tx, rec, to)
}

func (e *Engine) closeGap(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record, scope map[string]any, vacated int64) error {
	if vacated <= pending {
		return nil
	}
	return e.shift(ctx, tx, scope, rec.PrimaryKey(), ops.GreaterThan(vacated), -1)
}

// lock takes row locks on the scope where the dialect supports them and
// returns how many rows other than pk it holds.
func (e *Engine) lock(ctx context.Context, tx dbexec.TxExecutor, scope map[string]any, pk any) (int64, error) {
	keys, err := e.scoped(tx, scope).
		AndNot(map[string]any{e.model.PrimaryKey: pk}).
		ForUpdate().
		Pluck(ctx, e.model.PrimaryKey)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (e *Engine) shift(ctx context.Context, tx dbexec.TxExecutor, scope map[string]any, pk any, positions any, delta int) error {
	col := e.env.Dialect.QuoteIdentifier(e.column)
	expr := sq.Expr(fmt.Sprintf("%s + %d", col, delta))
	if delta < 0 {
		expr = sq.Expr(fmt.Sprintf("%s - %d", col, -delta))
	}
	n, err := e.scoped(tx, scope).
		And(map[string]any{e.column: positions}).
		AndNot(map[string]any{e.model.PrimaryKey: pk}).
		UpdateAll(ctx, map[string]any{e.column: expr})
	if err != nil {
		return fmt.Errorf("sortable %s: shifting %s: %w", e.model.Name, e.column, err)
	}
	direction := "down"
	if delta < 0 {
		direction = "up"
	}
	e.env.Metrics.RecordShift(ctx, e.model.Name, direction)
	e.logger.Debug("shifted positions", "column", e.column, "direction", direction, "rows", n)
	return nil
}

func (e *Engine) finish(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record, final int64) error {
	if err := e.updateRow(ctx, tx, rec, map[string]any{e.column: final}); err != nil {
		return err
	}
	rec.Set(e.column, final)
	return nil
}

func (e *Engine) updateRow(ctx context.Context, tx dbexec.TxExecutor, rec *record.Record, values map[string]any) error {
	_, err := e.base(tx).Where(map[string]any{e.model.PrimaryKey: rec.PrimaryKey()}).UpdateAll(ctx, values)
	return err
}

// base queries the whole table: positions are dense across rows hidden by
// default scopes and across every STI subclass.
func (e *Engine) base(tx dbexec.TxExecutor) query.Query {
	return e.env.Query(e.model.Name).Txn(tx).WithoutDefaultScopes()
}

func (e *Engine) scoped(tx dbexec.TxExecutor, scope map[string]any) query.Query {
	q := e.base(tx)
	if len(scope) > 0 {
		q = q.Where(scope)
	}
	return q
}

func (e *Engine) scopeOf(attrs map[string]any) map[string]any {
	scope := make(map[string]any, len(e.scope))
	for _, col := range e.scope {
		scope[col] = record.NormalizeValue(attrs[col])
	}
	return scope
}

func sameScope(a, b map[string]any) bool {
	for k, v := range a {
		if record.Key(v) != record.Key(b[k]) {
			return false
		}
	}
	return true
}

func assign(rec *record.Record, values map[string]any) {
	for k, v := range values {
		rec.Set(k, v)
	}
}

func requestedPosition(attrs map[string]any, column string) (*int64, error) {
	v, ok := attrs[column]
	if !ok || v == nil {
		return nil, nil
	}
	p, err := position(v)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func position(v any) (int64, error) {
	switch b := v.(type) {
	case nil:
		return pending, nil
	case []byte:
		v = string(b)
	}
	p, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("sortable: position %v (%T) is not an integer: %w", v, v, err)
	}
	return p, nil
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}
