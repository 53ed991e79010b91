package introspection

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/registry"
	"dreamorm/internal/sqlutil"
)

// Problem is one mismatch between a declaration and the database.
type Problem struct {
	Model   string
	Table   string
	Column  string
	Message string
}

func (p Problem) String() string {
	if p.Column == "" {
		return fmt.Sprintf("%s (%s): %s", p.Model, p.Table, p.Message)
	}
	return fmt.Sprintf("%s (%s.%s): %s", p.Model, p.Table, p.Column, p.Message)
}

// Verify checks that every table, declared column, primary key, foreign key
// and discriminator column the registry relies on exists in the database.
// Through associations are covered by the direct associations they chain.
func Verify(ctx context.Context, db dbexec.QueryExecutor, dialect sqlutil.Dialect, reg *registry.Registry) ([]Problem, error) {
	ctx, span := startSpan(ctx, "introspection.verify",
		attribute.Int("models", len(reg.Models())),
	)
	defer span.End()

	names := make([]string, 0, len(reg.Models()))
	for _, name := range reg.Models() {
		m, err := reg.Model(name)
		if err != nil {
			return nil, err
		}
		names = append(names, m.Table)
	}
	tables, err := ReadTables(ctx, db, dialect, names)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	v := verifier{reg: reg, tables: tables, seen: map[string]bool{}}
	for _, name := range reg.Models() {
		if err := v.model(name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
	}
	sort.SliceStable(v.problems, func(i, j int) bool {
		if v.problems[i].Model != v.problems[j].Model {
			return v.problems[i].Model < v.problems[j].Model
		}
		return v.problems[i].Column < v.problems[j].Column
	})
	span.SetAttributes(attribute.Int("problems", len(v.problems)))
	return v.problems, nil
}

type verifier struct {
	reg      *registry.Registry
	tables   map[string]Table
	seen     map[string]bool
	problems []Problem
}

func (v *verifier) add(model, table, column, message string) {
	key := model + "|" + table + "|" + column
	if v.seen[key] {
		return
	}
	v.seen[key] = true
	v.problems = append(v.problems, Problem{Model: model, Table: table, Column: column, Message: message})
}

func (v *verifier) model(name string) error {
	m, err := v.reg.Model(name)
	if err != nil {
		return err
	}
	table := v.tables[m.Table]
	if !table.Exists() {
		v.add(m.Name, m.Table, "", "table does not exist")
		return nil
	}

	// STI subclasses share the root's table; only what they add is checked
	var parent *registry.Model
	if m.Extends != "" {
		if parent, err = v.reg.Model(m.Extends); err != nil {
			return err
		}
	} else {
		if _, ok := table.Column(m.PrimaryKey); !ok {
			v.add(m.Name, m.Table, m.PrimaryKey, "primary key column does not exist")
		}
		if m.IsSTI() {
			if _, ok := table.Column(m.TypeColumn); !ok {
				v.add(m.Name, m.Table, m.TypeColumn, "inheritance type column does not exist")
			}
		}
	}
	for _, c := range m.Columns {
		if parent != nil && parent.HasColumn(c) {
			continue
		}
		if _, ok := table.Column(c); !ok {
			v.add(m.Name, m.Table, c, "declared column does not exist")
		}
	}

	for _, a := range m.Associations {
		if a.IsThrough() {
			continue
		}
		if parent != nil && v.reg.HasAssociation(parent.Name, a.Name) {
			continue
		}
		if err := v.association(m, a); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) association(owner *registry.Model, a registry.Association) error {
	label := owner.Name + "." + a.Name
	if a.Type == registry.BelongsTo {
		v.requireColumn(label, owner.Table, a.ForeignKey, "foreign key column does not exist")
		if a.IsPolymorphic() {
			v.requireColumn(label, owner.Table, a.ForeignKeyType, "polymorphic type column does not exist")
		}
		for _, target := range a.Targets {
			t, err := v.reg.Model(target)
			if err != nil {
				return err
			}
			key := t.PrimaryKey
			if a.PrimaryKey != "" {
				key = a.PrimaryKey
			}
			v.requireColumn(label, t.Table, key, "referenced key column does not exist")
		}
		return nil
	}

	target, err := v.reg.Model(a.Target())
	if err != nil {
		return err
	}
	v.requireColumn(label, target.Table, a.ForeignKey, "foreign key column does not exist")
	if a.IsPolymorphic() {
		v.requireColumn(label, target.Table, a.ForeignKeyType, "polymorphic type column does not exist")
	}
	if a.PrimaryKey != "" {
		v.requireColumn(label, owner.Table, a.PrimaryKey, "referenced key column does not exist")
	}
	return nil
}

func (v *verifier) requireColumn(model, table, column, message string) {
	t := v.tables[table]
	if !t.Exists() {
		return
	}
	if _, ok := t.Column(column); !ok {
		v.add(model, table, column, message)
	}
}
