package query

import (
	"context"
	"fmt"
	"strings"

	"dreamorm/internal/record"
	"dreamorm/internal/registry"
)

const columnSeparator = "__"

// leftJoinPreloaded fetches roots with their LeftJoinPreload paths joined in
// and folds the fanned-out rows back to one record per root. A windowed
// query first selects the root keys, then joins only those roots.
func (q Query) leftJoinPreloaded(ctx context.Context) ([]*record.Record, error) {
	stitch := q
	if q.hasWindow() {
		windowed := q
		windowed.leftJoinPreloads = nil
		windowed.preloads = nil
		roots, err := windowed.fetch(ctx, "select")
		if err != nil {
			return nil, err
		}
		if len(roots) == 0 {
			return nil, nil
		}
		keys := make([]any, len(roots))
		for i, root := range roots {
			keys[i] = root.PrimaryKey()
		}
		stitch = q.Limit(-1).Offset(-1).Where(map[string]any{q.model.PrimaryKey: keys})
	}

	t, paths, err := stitch.buildTree(true)
	if err != nil {
		return nil, err
	}

	// alias -> model for every selected table, base first
	aliases := []string{t.baseAlias}
	models := map[string]*registry.Model{t.baseAlias: q.model}
	for _, steps := range paths {
		for _, s := range steps {
			if _, ok := models[s.alias]; !ok {
				aliases = append(aliases, s.alias)
				models[s.alias] = s.model
			}
		}
	}

	d := q.env.Dialect
	var columns []string
	for _, alias := range aliases {
		cols, err := q.selectableColumns(models[alias])
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			columns = append(columns, fmt.Sprintf("%s AS %s",
				d.QualifiedColumn(alias, col), d.QuoteIdentifier(alias+columnSeparator+col)))
		}
	}

	b, err := stitch.selectBuilder(t, columns...)
	if err != nil {
		return nil, err
	}
	terms := stitch.orderTerms()
	for _, alias := range aliases[1:] {
		terms = append(terms, registry.OrderTerm{Column: alias + "." + models[alias].PrimaryKey})
	}
	if b, err = stitch.orderBy(t, b, terms); err != nil {
		return nil, err
	}
	rows, err := stitch.queryMaps(ctx, "select", stitch.window(b))
	if err != nil {
		return nil, err
	}
	return q.stitchRows(rows, t.baseAlias, paths)
}

// selectableColumns returns the declared columns of m and of its STI
// descendants, which share the table.
func (q Query) selectableColumns(m *registry.Model) ([]string, error) {
	var columns []string
	seen := map[string]bool{}
	for _, name := range q.env.Registry.Descendants(m.Name) {
		sub, err := q.env.Registry.Model(name)
		if err != nil {
			return nil, err
		}
		for _, col := range sub.Columns {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("LeftJoinPreload needs declared columns on %s", m.Name)
	}
	if !seen[m.PrimaryKey] {
		columns = append(columns, m.PrimaryKey)
	}
	return columns, nil
}

type stitchSlot struct {
	owner *record.Record
	name  string
	many  bool
	list  []*record.Record
	seen  map[string]bool
}

func (q Query) stitchRows(rows []map[string]any, baseAlias string, paths [][]joinedStep) ([]*record.Record, error) {
	cache := map[string]map[string]*record.Record{}
	materialize := func(alias string, m *registry.Model, row map[string]any) (*record.Record, bool, error) {
		attrs := extractAlias(row, alias)
		pk := attrs[m.PrimaryKey]
		if pk == nil {
			return nil, false, nil
		}
		key := record.Key(pk)
		if cache[alias] == nil {
			cache[alias] = map[string]*record.Record{}
		}
		if rec, ok := cache[alias][key]; ok {
			return rec, false, nil
		}
		concrete, err := q.env.Types.ConcreteModel(m.Name, attrs)
		if err != nil {
			return nil, false, err
		}
		rec := record.New(concrete, attrs)
		cache[alias][key] = rec
		return rec, true, nil
	}

	var roots []*record.Record
	type slotKey struct {
		owner *record.Record
		name  string
	}
	slots := map[slotKey]*stitchSlot{}
	var order []*stitchSlot

	for _, row := range rows {
		root, created, err := materialize(baseAlias, q.model, row)
		if err != nil {
			return nil, err
		}
		if root == nil {
			continue
		}
		if created {
			roots = append(roots, root)
		}
		for _, steps := range paths {
			parent := root
			for _, s := range steps {
				k := slotKey{owner: parent, name: s.step.Name}
				slot, ok := slots[k]
				if !ok {
					slot = &stitchSlot{
						owner: parent,
						name:  s.step.Name,
						many:  s.step.Association.Type == registry.HasMany,
						seen:  map[string]bool{},
					}
					slots[k] = slot
					order = append(order, slot)
				}
				child, _, err := materialize(s.alias, s.model, row)
				if err != nil {
					return nil, err
				}
				if child == nil {
					break
				}
				if id := identity(child); !slot.seen[id] {
					slot.seen[id] = true
					slot.list = append(slot.list, child)
				}
				parent = child
			}
		}
	}

	for _, slot := range order {
		if slot.many {
			slot.owner.SetMany(slot.name, slot.list)
			continue
		}
		var one *record.Record
		if len(slot.list) > 0 {
			one = slot.list[0]
		}
		slot.owner.SetOne(slot.name, one)
	}
	return roots, nil
}

func extractAlias(row map[string]any, alias string) map[string]any {
	prefix := alias + columnSeparator
	attrs := make(map[string]any)
	for key, value := range row {
		if column, ok := strings.CutPrefix(key, prefix); ok {
			attrs[column] = value
		}
	}
	return attrs
}
