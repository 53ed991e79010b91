// Package registry holds the static, read-only association metadata for every
// model. It is materialized once at startup by a Builder and consulted
// everywhere without reflection.
package registry

import (
	"fmt"
	"strings"
)

// AssociationType identifies the cardinality of an association.
type AssociationType int

const (
	BelongsTo AssociationType = iota + 1
	HasOne
	HasMany
)

func (t AssociationType) String() string {
	switch t {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	default:
		return fmt.Sprintf("association_type(%d)", int(t))
	}
}

// ParseAssociationType accepts the snake_case names produced by String.
func ParseAssociationType(s string) (AssociationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "belongs_to", "belongsto":
		return BelongsTo, nil
	case "has_one", "hasone":
		return HasOne, nil
	case "has_many", "hasmany":
		return HasMany, nil
	default:
		return 0, fmt.Errorf("unknown association type %q", s)
	}
}

// OrderTerm is one ORDER BY column.
type OrderTerm struct {
	Column string `yaml:"column"`
	Desc   bool   `yaml:"desc"`
}

// Conditions are static scope conditions attached to an association or a
// default scope. Values follow the where-clause conventions of package ops.
type Conditions struct {
	And      map[string]any   `yaml:"and"`
	AndNot   map[string]any   `yaml:"and_not"`
	AndAny   []map[string]any `yaml:"and_any"`
	Order    []OrderTerm      `yaml:"order"`
	Distinct bool             `yaml:"distinct"`
}

// IsZero reports whether no condition is set.
func (c Conditions) IsZero() bool {
	return len(c.And) == 0 && len(c.AndNot) == 0 && len(c.AndAny) == 0 && len(c.Order) == 0 && !c.Distinct
}

// Association is one declared relationship on a model.
type Association struct {
	// Owner is the declaring model, filled in by the Builder.
	Owner string
	Name  string
	Type  AssociationType
	// Targets lists target model names; more than one implies polymorphic.
	Targets []string
	// ForeignKey is the owner column for belongs-to, the target column otherwise.
	ForeignKey string
	// ForeignKeyType is the discriminator column paired with a polymorphic foreign key.
	ForeignKeyType string
	Polymorphic    bool
	// PrimaryKey overrides the key the foreign key points at (owner side for
	// has-one/has-many, target side for belongs-to).
	PrimaryKey           string
	Through              string
	Source               string
	Conditions           Conditions
	WithoutDefaultScopes bool
}

// IsPolymorphic reports whether the target varies per row.
func (a Association) IsPolymorphic() bool {
	return a.Polymorphic || len(a.Targets) > 1
}

// IsThrough reports whether the association is defined via another association.
func (a Association) IsThrough() bool {
	return a.Through != ""
}

// Target returns the single target model. Polymorphic associations should use Targets.
func (a Association) Target() string {
	if len(a.Targets) == 0 {
		return ""
	}
	return a.Targets[0]
}

// Scope is a named set of conditions. Default scopes apply unless removed.
type Scope struct {
	Name       string
	Conditions Conditions
}

// Model is the metadata for one model.
type Model struct {
	Name       string
	Table      string
	PrimaryKey string
	Columns    []string
	// STIBase marks the root of a single-table-inheritance hierarchy.
	STIBase bool
	// Extends names the STI parent; empty for roots and plain models.
	Extends string
	// ExtendedBy lists direct STI children, filled in by the Builder.
	ExtendedBy    []string
	TypeColumn    string
	DefaultScopes []Scope
	Associations  []Association
}

// IsSTI reports whether the model takes part in single-table inheritance.
func (m *Model) IsSTI() bool {
	return m.STIBase || m.Extends != ""
}

// HasColumn reports whether column is declared on the model.
func (m *Model) HasColumn(column string) bool {
	for _, c := range m.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (m *Model) association(name string) (Association, bool) {
	for _, a := range m.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}
