package query

import (
	"slices"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/registry"
)

type predicateKind int

const (
	predicateAnd predicateKind = iota
	predicateAndNot
	predicateAndAny
)

type predicate struct {
	kind  predicateKind
	conds []map[string]any
}

type joinRequest struct {
	path  []string
	left  bool
	conds map[string]any
}

type preloadRequest struct {
	path  []string
	conds map[string]any
}

// Query is an immutable query over one model. Every builder method returns a
// modified copy; the receiver is never changed, so a base query can be
// branched freely.
type Query struct {
	env   *Env
	model *registry.Model

	predicates []predicate
	joins      []joinRequest
	orders     []registry.OrderTerm
	limit      int
	offset     int
	distinct   bool
	forUpdate  bool

	tx   dbexec.QueryExecutor
	conn dbexec.Connection

	preloads         []preloadRequest
	leftJoinPreloads [][]string

	removedScopes   []string
	removeAllScopes bool

	err error
}

// From starts a query against model. An unknown model is reported when the
// query executes.
func From(env *Env, model string) Query {
	m, err := env.Registry.Model(model)
	return Query{env: env, model: m, limit: -1, offset: -1, err: err}
}

// Model returns the queried model.
func (q Query) Model() *registry.Model {
	return q.model
}

// Err returns the first error recorded while building the query.
func (q Query) Err() error {
	return q.err
}

// Where adds equality, membership or operator conditions; it is an alias for And.
// Keys are column names, optionally qualified by a join alias ("comments.body").
func (q Query) Where(conds map[string]any) Query {
	return q.And(conds)
}

// And adds conditions that must all hold.
func (q Query) And(conds map[string]any) Query {
	if len(conds) == 0 {
		return q
	}
	q.predicates = append(slices.Clip(q.predicates), predicate{kind: predicateAnd, conds: []map[string]any{conds}})
	return q
}

// AndNot excludes rows matching all of conds.
func (q Query) AndNot(conds map[string]any) Query {
	if len(conds) == 0 {
		return q
	}
	q.predicates = append(slices.Clip(q.predicates), predicate{kind: predicateAndNot, conds: []map[string]any{conds}})
	return q
}

// AndAny requires at least one of the condition groups to hold.
func (q Query) AndAny(groups ...map[string]any) Query {
	if len(groups) == 0 {
		return q
	}
	q.predicates = append(slices.Clip(q.predicates), predicate{kind: predicateAndAny, conds: groups})
	return q
}

// InnerJoin joins the association path with an inner join.
func (q Query) InnerJoin(path ...string) Query {
	return q.join(path, false, nil)
}

// InnerJoinWhere inner joins path, adding conds to the final join's ON clause.
func (q Query) InnerJoinWhere(path []string, conds map[string]any) Query {
	return q.join(path, false, conds)
}

// LeftJoin joins the association path with a left outer join.
func (q Query) LeftJoin(path ...string) Query {
	return q.join(path, true, nil)
}

// LeftJoinWhere left joins path, adding conds to the final join's ON clause.
func (q Query) LeftJoinWhere(path []string, conds map[string]any) Query {
	return q.join(path, true, conds)
}

func (q Query) join(path []string, left bool, conds map[string]any) Query {
	q.joins = append(slices.Clip(q.joins), joinRequest{path: slices.Clone(path), left: left, conds: conds})
	return q
}

// Asc orders by column ascending.
func Asc(column string) registry.OrderTerm {
	return registry.OrderTerm{Column: column}
}

// Desc orders by column descending.
func Desc(column string) registry.OrderTerm {
	return registry.OrderTerm{Column: column, Desc: true}
}

// Order appends ordering terms. Without any, queries order by primary key.
func (q Query) Order(terms ...registry.OrderTerm) Query {
	q.orders = append(slices.Clip(q.orders), terms...)
	return q
}

// Unordered drops ordering terms added so far.
func (q Query) Unordered() Query {
	q.orders = nil
	return q
}

// Limit caps the number of returned rows. A negative n removes the cap.
func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

// Offset skips n rows. A negative n removes the offset.
func (q Query) Offset(n int) Query {
	q.offset = n
	return q
}

// Distinct makes the query select distinct rows.
func (q Query) Distinct() Query {
	q.distinct = true
	return q
}

// ForUpdate locks selected rows on dialects that support row locking.
func (q Query) ForUpdate() Query {
	q.forUpdate = true
	return q
}

// Txn runs the query and its preloads inside tx. A nil tx detaches the query.
func (q Query) Txn(tx dbexec.QueryExecutor) Query {
	q.tx = tx
	return q
}

// Connection selects the primary or replica pool. An attached transaction
// always wins.
func (q Query) Connection(conn dbexec.Connection) Query {
	q.conn = conn
	return q
}

// WithoutDefaultScope removes the named default scope from every model the
// query touches.
func (q Query) WithoutDefaultScope(names ...string) Query {
	q.removedScopes = append(slices.Clip(q.removedScopes), names...)
	return q
}

// WithoutDefaultScopes removes every default scope.
func (q Query) WithoutDefaultScopes() Query {
	q.removeAllScopes = true
	return q
}

// Preload schedules a batched load of the association path.
func (q Query) Preload(path ...string) Query {
	return q.PreloadWhere(path, nil)
}

// PreloadWhere schedules a batched load of path, filtering the last level by conds.
func (q Query) PreloadWhere(path []string, conds map[string]any) Query {
	q.preloads = append(slices.Clip(q.preloads), preloadRequest{path: slices.Clone(path), conds: conds})
	return q
}

// LeftJoinPreload loads the association path with left joins and stitches
// the fanned-out rows back to one record per root.
func (q Query) LeftJoinPreload(path ...string) Query {
	q.leftJoinPreloads = append(slices.Clip(q.leftJoinPreloads), slices.Clone(path))
	return q
}

// Conditions applies a declared condition set (association or scope conditions).
func (q Query) Conditions(c registry.Conditions) Query {
	q = q.And(c.And).AndNot(c.AndNot).AndAny(c.AndAny...)
	q = q.Order(c.Order...)
	if c.Distinct {
		q = q.Distinct()
	}
	return q
}

func (q Query) scopeRemoved(name string) bool {
	return q.removeAllScopes || slices.Contains(q.removedScopes, name)
}

func (q Query) hasWindow() bool {
	return q.limit >= 0 || q.offset >= 0
}
