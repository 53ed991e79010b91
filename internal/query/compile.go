package query

import (
	"fmt"
	"math"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dreamorm/internal/ops"
	"dreamorm/internal/registry"
)

// qualify resolves a condition or order key to a quoted column. Bare names
// belong to defaultAlias; "alias.column" must name a joined alias.
func (q Query) qualify(t *joinTree, defaultAlias, key string) (string, error) {
	alias, column := defaultAlias, key
	if i := strings.IndexByte(key, '.'); i >= 0 {
		alias, column = key[:i], key[i+1:]
		if _, ok := t.aliases[alias]; !ok {
			return "", fmt.Errorf("%w %q in %q", ErrUnknownAlias, alias, key)
		}
	}
	if column == "" {
		return "", fmt.Errorf("empty column name in %q", key)
	}
	return q.env.Dialect.QualifiedColumn(alias, column), nil
}

func (q Query) condsClause(t *joinTree, alias string, conds map[string]any) (sq.And, error) {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clause := make(sq.And, 0, len(keys))
	for _, k := range keys {
		column, err := q.qualify(t, alias, k)
		if err != nil {
			return nil, err
		}
		compiled, err := ops.Compile(q.env.Dialect, column, conds[k])
		if err != nil {
			return nil, err
		}
		clause = append(clause, compiled)
	}
	return clause, nil
}

func negate(s sq.Sqlizer) (sq.Sqlizer, error) {
	text, args, err := s.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("NOT ("+text+")", args...), nil
}

func (q Query) conditionClauses(t *joinTree, alias string, c registry.Conditions) ([]sq.Sqlizer, error) {
	var clauses []sq.Sqlizer
	if len(c.And) > 0 {
		and, err := q.condsClause(t, alias, c.And)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, and)
	}
	if len(c.AndNot) > 0 {
		and, err := q.condsClause(t, alias, c.AndNot)
		if err != nil {
			return nil, err
		}
		not, err := negate(and)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, not)
	}
	if len(c.AndAny) > 0 {
		either := make(sq.Or, 0, len(c.AndAny))
		for _, group := range c.AndAny {
			and, err := q.condsClause(t, alias, group)
			if err != nil {
				return nil, err
			}
			either = append(either, and)
		}
		clauses = append(clauses, either)
	}
	return clauses, nil
}

func (q Query) scopeClauses(t *joinTree, alias string, m *registry.Model, skipAll bool) ([]sq.Sqlizer, error) {
	if skipAll || q.removeAllScopes {
		return nil, nil
	}
	var clauses []sq.Sqlizer
	for _, scope := range m.DefaultScopes {
		if q.scopeRemoved(scope.Name) {
			continue
		}
		scoped, err := q.conditionClauses(t, alias, scope.Conditions)
		if err != nil {
			return nil, fmt.Errorf("default scope %s.%s: %w", m.Name, scope.Name, err)
		}
		clauses = append(clauses, scoped...)
	}
	return clauses, nil
}

// stiClause restricts an STI child to its own and its descendants' rows.
func (q Query) stiClause(alias string, m *registry.Model) sq.Sqlizer {
	values := q.env.Types.DiscriminatorValues(m.Name)
	if len(values) == 0 {
		return nil
	}
	return sq.Eq{q.env.Dialect.QualifiedColumn(alias, m.TypeColumn): values}
}

func (q Query) whereClauses(t *joinTree) ([]sq.Sqlizer, error) {
	clauses, err := q.scopeClauses(t, t.baseAlias, q.model, false)
	if err != nil {
		return nil, err
	}
	if sti := q.stiClause(t.baseAlias, q.model); sti != nil {
		clauses = append(clauses, sti)
	}
	for _, p := range q.predicates {
		var c registry.Conditions
		switch p.kind {
		case predicateAnd:
			c.And = p.conds[0]
		case predicateAndNot:
			c.AndNot = p.conds[0]
		case predicateAndAny:
			c.AndAny = p.conds
		}
		compiled, err := q.conditionClauses(t, t.baseAlias, c)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, compiled...)
	}
	return clauses, nil
}

// selectBuilder builds SELECT columns FROM base plus joins and WHERE clauses,
// without ordering or windowing.
func (q Query) selectBuilder(t *joinTree, columns ...string) (sq.SelectBuilder, error) {
	d := q.env.Dialect
	b := sq.Select(columns...).From(d.QuoteIdentifier(q.model.Table))
	for _, n := range t.nodes {
		clause := fmt.Sprintf("%s AS %s ON %s", d.QuoteIdentifier(n.model.Table), d.QuoteIdentifier(n.alias), n.on)
		if n.left {
			b = b.LeftJoin(clause, n.args...)
		} else {
			b = b.InnerJoin(clause, n.args...)
		}
	}
	where, err := q.whereClauses(t)
	if err != nil {
		return b, err
	}
	if len(where) > 0 {
		b = b.Where(sq.And(where))
	}
	if q.distinct {
		b = b.Distinct()
	}
	return b, nil
}

func (q Query) orderTerms() []registry.OrderTerm {
	if len(q.orders) > 0 {
		return q.orders
	}
	return []registry.OrderTerm{{Column: q.model.PrimaryKey}}
}

func (q Query) orderBy(t *joinTree, b sq.SelectBuilder, terms []registry.OrderTerm) (sq.SelectBuilder, error) {
	clauses := make([]string, 0, len(terms))
	for _, term := range terms {
		column, err := q.qualify(t, t.baseAlias, term.Column)
		if err != nil {
			return b, err
		}
		if term.Desc {
			column += " DESC"
		} else {
			column += " ASC"
		}
		clauses = append(clauses, column)
	}
	return b.OrderBy(clauses...), nil
}

func (q Query) window(b sq.SelectBuilder) sq.SelectBuilder {
	if q.limit >= 0 {
		b = b.Limit(uint64(q.limit))
	} else if q.offset >= 0 && q.env.Dialect.Name != "postgres" {
		// MySQL and SQLite reject OFFSET without LIMIT
		b = b.Limit(math.MaxInt64)
	}
	if q.offset >= 0 {
		b = b.Offset(uint64(q.offset))
	}
	if q.forUpdate && q.env.Dialect.SupportsForUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	return b
}

// render converts a statement to SQL in the dialect's placeholder format.
// Statements are built with '?' placeholders so nested selects compose.
func (q Query) render(s sq.Sqlizer) (string, []any, error) {
	text, args, err := s.ToSql()
	if err != nil {
		return "", nil, err
	}
	text, err = q.env.Dialect.Placeholder.ReplacePlaceholders(text)
	if err != nil {
		return "", nil, err
	}
	return text, args, nil
}
