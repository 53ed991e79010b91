package query

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"dreamorm/internal/association"
	"dreamorm/internal/registry"
	"dreamorm/internal/sqlutil"
)

type joinNode struct {
	alias string
	model *registry.Model
	left  bool
	on    string
	args  []any
}

// joinTree holds the joins of one compiled statement. Nodes are keyed by a
// signature of (table, parent, key columns, conditions) so structurally
// identical requests share one alias.
type joinTree struct {
	baseAlias string
	nodes     []*joinNode
	bySig     map[string]*joinNode
	aliases   map[string]*registry.Model
}

// joinedStep is one path segment mapped to the alias of its final hop.
type joinedStep struct {
	step  association.Step
	alias string
	model *registry.Model
}

func newJoinTree(base *registry.Model) *joinTree {
	return &joinTree{
		baseAlias: base.Table,
		bySig:     map[string]*joinNode{},
		aliases:   map[string]*registry.Model{base.Table: base},
	}
}

func (t *joinTree) uniqueAlias(name string) (string, error) {
	if err := sqlutil.ValidateAlias(name); err != nil {
		return "", err
	}
	alias := name
	for i := 2; ; i++ {
		if _, taken := t.aliases[alias]; !taken {
			return alias, nil
		}
		alias = fmt.Sprintf("%s_%d", name, i)
	}
}

// buildTree compiles the query's join requests, plus the left-join preload
// paths when withPreloads is set.
func (q Query) buildTree(withPreloads bool) (*joinTree, [][]joinedStep, error) {
	t := newJoinTree(q.model)
	for _, j := range q.joins {
		if _, err := q.addJoin(t, j.path, j.left, j.conds); err != nil {
			return nil, nil, err
		}
	}
	if !withPreloads {
		return t, nil, nil
	}
	stitched := make([][]joinedStep, 0, len(q.leftJoinPreloads))
	for _, path := range q.leftJoinPreloads {
		steps, err := q.addJoin(t, path, true, nil)
		if err != nil {
			return nil, nil, err
		}
		stitched = append(stitched, steps)
	}
	return t, stitched, nil
}

func (q Query) addJoin(t *joinTree, path []string, left bool, conds map[string]any) ([]joinedStep, error) {
	steps, err := q.env.Paths.ResolveJoinPath(q.model.Name, path)
	if err != nil {
		return nil, err
	}
	parentAlias := t.baseAlias
	out := make([]joinedStep, 0, len(steps))
	for i, step := range steps {
		for j, hop := range step.Hops {
			lastHop := j == len(step.Hops)-1
			name := hop.Association.Name
			var extra map[string]any
			if lastHop {
				name = step.Name
				if i == len(steps)-1 {
					extra = conds
				}
			}
			node, err := q.joinHop(t, parentAlias, name, hop, left, extra)
			if err != nil {
				return nil, err
			}
			parentAlias = node.alias
			if lastHop {
				out = append(out, joinedStep{step: step, alias: node.alias, model: node.model})
			}
		}
	}
	return out, nil
}

func (q Query) joinHop(t *joinTree, parentAlias, name string, hop association.Hop, left bool, extra map[string]any) (*joinNode, error) {
	target, err := q.env.Registry.Model(hop.Association.Target())
	if err != nil {
		return nil, err
	}
	ownerCol, targetCol := hop.Keys(target)
	typeValue := ""
	if hop.Association.IsPolymorphic() {
		if typeValue, err = q.env.Types.PolymorphicTypeFor(hop.Owner.Name); err != nil {
			return nil, err
		}
	}

	sig := fmt.Sprintf("%s|%s|%s=%s|%s|%v|%t|%v",
		target.Table, parentAlias, ownerCol, targetCol, typeValue, hop.Conditions, hop.WithoutDefaultScopes, extra)
	if node, ok := t.bySig[sig]; ok {
		if !left {
			node.left = false
		}
		return node, nil
	}

	alias, err := t.uniqueAlias(name)
	if err != nil {
		return nil, err
	}
	// register before compiling conditions so they may refer to the new alias
	t.aliases[alias] = target

	d := q.env.Dialect
	parts := sq.And{sq.Expr(fmt.Sprintf("%s = %s", d.QualifiedColumn(alias, targetCol), d.QualifiedColumn(parentAlias, ownerCol)))}
	if typeValue != "" {
		parts = append(parts, sq.Eq{d.QualifiedColumn(alias, hop.Association.ForeignKeyType): typeValue})
	}
	for _, c := range hop.Conditions {
		clauses, err := q.conditionClauses(t, alias, c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, clauses...)
	}
	scopes, err := q.scopeClauses(t, alias, target, hop.WithoutDefaultScopes)
	if err != nil {
		return nil, err
	}
	parts = append(parts, scopes...)
	if sti := q.stiClause(alias, target); sti != nil {
		parts = append(parts, sti)
	}
	if len(extra) > 0 {
		clause, err := q.condsClause(t, alias, extra)
		if err != nil {
			return nil, err
		}
		parts = append(parts, clause)
	}

	on, args, err := parts.ToSql()
	if err != nil {
		return nil, err
	}
	node := &joinNode{alias: alias, model: target, left: left, on: on, args: args}
	t.nodes = append(t.nodes, node)
	t.bySig[sig] = node
	return node, nil
}
