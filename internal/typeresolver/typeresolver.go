// Package typeresolver maps discriminator values to concrete models for
// single-table inheritance and polymorphic associations.
package typeresolver

import (
	"fmt"

	"dreamorm/internal/registry"
)

// MissingSubclassError is a data-integrity failure: a stored STI
// discriminator names no registered subclass of the base model.
type MissingSubclassError struct {
	Base          string
	Discriminator any
	PrimaryKey    any
}

func (e *MissingSubclassError) Error() string {
	return fmt.Sprintf(
		"missing subclass: %s row with primary key %v has discriminator %v, which is not %s or a registered subclass",
		e.Base, e.PrimaryKey, e.Discriminator, e.Base,
	)
}

// UnknownPolymorphicTypeError is returned when a polymorphic type column holds
// a value that is not one of the association's declared targets.
type UnknownPolymorphicTypeError struct {
	Model       string
	Association string
	Type        any
}

func (e *UnknownPolymorphicTypeError) Error() string {
	return fmt.Sprintf("association %s.%s has no polymorphic target for type %v", e.Model, e.Association, e.Type)
}

// Resolver resolves concrete model names against a registry.
type Resolver struct {
	reg *registry.Registry
}

// New creates a Resolver.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// ResolveSTI returns the model named by discriminator, searched among base
// and its subclasses recursively. pk is only used for the error message.
func (r *Resolver) ResolveSTI(base string, discriminator any, pk any) (*registry.Model, error) {
	name, ok := discriminator.(string)
	if !ok {
		if b, isBytes := discriminator.([]byte); isBytes {
			name, ok = string(b), true
		}
	}
	if !ok || name == "" {
		return nil, &MissingSubclassError{Base: base, Discriminator: discriminator, PrimaryKey: pk}
	}
	baseModel, err := r.reg.Model(base)
	if err != nil {
		return nil, err
	}
	if found := r.findSubclass(baseModel, name); found != nil {
		return found, nil
	}
	return nil, &MissingSubclassError{Base: base, Discriminator: name, PrimaryKey: pk}
}

func (r *Resolver) findSubclass(m *registry.Model, name string) *registry.Model {
	if m.Name == name {
		return m
	}
	for _, child := range m.ExtendedBy {
		childModel, err := r.reg.Model(child)
		if err != nil {
			continue
		}
		if found := r.findSubclass(childModel, name); found != nil {
			return found
		}
	}
	return nil
}

// ConcreteModel returns the model a fetched row should be materialized as.
// Rows of STI models are resolved from their discriminator column; other
// models are returned unchanged.
func (r *Resolver) ConcreteModel(model string, row map[string]any) (*registry.Model, error) {
	m, err := r.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if !m.IsSTI() {
		return m, nil
	}
	discriminator, ok := row[m.TypeColumn]
	if !ok {
		// discriminator not selected; trust the queried model
		return m, nil
	}
	return r.ResolveSTI(m.Name, discriminator, row[m.PrimaryKey])
}

// PolymorphicTarget returns the declared target of a polymorphic belongs-to
// matching a stored type value. Type values hold STI root names, so a target
// declared as an STI root also matches its subclasses.
func (r *Resolver) PolymorphicTarget(a registry.Association, typeValue any) (*registry.Model, error) {
	name, ok := typeValue.(string)
	if b, isBytes := typeValue.([]byte); isBytes {
		name, ok = string(b), true
	}
	if ok {
		for _, target := range a.Targets {
			if target == name {
				return r.reg.Model(target)
			}
		}
		for _, target := range a.Targets {
			root, err := r.reg.Root(target)
			if err == nil && root.Name == name {
				return r.reg.Model(target)
			}
		}
	}
	return nil, &UnknownPolymorphicTypeError{Model: a.Owner, Association: a.Name, Type: typeValue}
}

// PolymorphicTypeFor returns the value stored in a polymorphic type column
// for a record of model: its STI root, never the subclass name.
func (r *Resolver) PolymorphicTypeFor(model string) (string, error) {
	root, err := r.reg.Root(model)
	if err != nil {
		return "", err
	}
	return root.Name, nil
}

// DiscriminatorValues returns the discriminator values a query against model
// must match: the model itself plus every subclass. It returns nil for STI
// roots and non-STI models, which need no filter.
func (r *Resolver) DiscriminatorValues(model string) []string {
	m, err := r.reg.Model(model)
	if err != nil || m.Extends == "" {
		return nil
	}
	return r.reg.Descendants(model)
}
