// Package association resolves association-name paths into direct hops,
// expanding through associations and enforcing the polymorphic rules shared
// by joins and preloads.
package association

import (
	"fmt"

	"dreamorm/internal/record"
	"dreamorm/internal/registry"
	"dreamorm/internal/typeresolver"
)

// Hop is one direct (non-through) association step.
type Hop struct {
	// Owner is the model the association is declared on.
	Owner       *registry.Model
	Association registry.Association
	// Conditions collects the association's own conditions plus those of any
	// through associations that end at this hop.
	Conditions []registry.Conditions
	// WithoutDefaultScopes is set when the association or an enclosing through
	// association opts out of the target's default scopes.
	WithoutDefaultScopes bool
}

// Targets returns the hop's possible target models.
func (h Hop) Targets() []string {
	return h.Association.Targets
}

// Keys returns the owner column and the target column that the hop matches on.
func (h Hop) Keys(target *registry.Model) (ownerColumn, targetColumn string) {
	a := h.Association
	if a.Type == registry.BelongsTo {
		targetColumn = a.PrimaryKey
		if targetColumn == "" {
			targetColumn = target.PrimaryKey
		}
		return a.ForeignKey, targetColumn
	}
	ownerColumn = a.PrimaryKey
	if ownerColumn == "" {
		ownerColumn = h.Owner.PrimaryKey
	}
	return ownerColumn, a.ForeignKey
}

// IsPolymorphicBelongsTo reports whether the hop's target table varies per row.
func (h Hop) IsPolymorphicBelongsTo() bool {
	return h.Association.Type == registry.BelongsTo && h.Association.IsPolymorphic()
}

// Step is one user-facing path segment and the hops it expands to.
type Step struct {
	Name        string
	Association registry.Association
	Hops        []Hop
}

// Resolver expands association paths against a registry.
type Resolver struct {
	reg   *registry.Registry
	types *typeresolver.Resolver
}

// New creates a Resolver.
func New(reg *registry.Registry, types *typeresolver.Resolver) *Resolver {
	if types == nil {
		types = typeresolver.New(reg)
	}
	return &Resolver{reg: reg, types: types}
}

// Registry returns the registry the resolver reads.
func (r *Resolver) Registry() *registry.Registry {
	return r.reg
}

// Types returns the type resolver.
func (r *Resolver) Types() *typeresolver.Resolver {
	return r.types
}

// Expand substitutes a through association with the direct hops it stands
// for, following through -> source transitively. When the through hop is a
// polymorphic belongs-to, the source hops of each target follow one after
// the other in target order.
func (r *Resolver) Expand(model, name string) ([]Hop, error) {
	a, err := r.reg.GetAssociation(model, name)
	if err != nil {
		return nil, err
	}
	return r.expand(model, a, map[string]bool{})
}

func (r *Resolver) expand(model string, a registry.Association, visiting map[string]bool) ([]Hop, error) {
	key := model + "." + a.Name
	if visiting[key] {
		return nil, fmt.Errorf("association %s is part of a through cycle", key)
	}
	visiting[key] = true
	defer delete(visiting, key)

	if !a.IsThrough() {
		hop, err := r.DirectHop(model, a)
		if err != nil {
			return nil, err
		}
		return []Hop{hop}, nil
	}

	via, err := r.reg.GetAssociation(model, a.Through)
	if err != nil {
		return nil, err
	}
	hops, err := r.expand(model, via, visiting)
	if err != nil {
		return nil, err
	}
	// after a polymorphic belongs-to every target contributes its own source
	// hops; they are alternatives per row type, not one chain
	last := hops[len(hops)-1]
	nextModels := []string{last.Association.Target()}
	if last.IsPolymorphicBelongsTo() {
		nextModels = last.Targets()
	}
	for _, nextModel := range nextModels {
		source, err := r.reg.Source(nextModel, a)
		if err != nil {
			return nil, err
		}
		tail, err := r.expand(nextModel, source, visiting)
		if err != nil {
			return nil, err
		}
		ApplyThroughScope(&tail[len(tail)-1], a)
		hops = append(hops, tail...)
	}
	return hops, nil
}

// ApplyThroughScope adds the conditions and default-scope opt-out of the
// through association a to hop, the final hop it expands to.
func ApplyThroughScope(hop *Hop, a registry.Association) {
	if !a.Conditions.IsZero() {
		hop.Conditions = append(hop.Conditions, a.Conditions)
	}
	if a.WithoutDefaultScopes {
		hop.WithoutDefaultScopes = true
	}
}

// DirectHop returns the hop for a non-through association declared on model.
func (r *Resolver) DirectHop(model string, a registry.Association) (Hop, error) {
	if a.IsThrough() {
		return Hop{}, fmt.Errorf("association %s.%s is a through association", model, a.Name)
	}
	owner, err := r.reg.Model(model)
	if err != nil {
		return Hop{}, err
	}
	hop := Hop{Owner: owner, Association: a, WithoutDefaultScopes: a.WithoutDefaultScopes}
	if !a.Conditions.IsZero() {
		hop.Conditions = []registry.Conditions{a.Conditions}
	}
	return hop, nil
}

// ResolvePath resolves a preload path. Every segment is looked up on the
// models the previous one reaches: after a polymorphic belongs-to that is
// each target and its STI descendants, and the segment must be declared on
// at least one of them. Polymorphic compositions are rejected.
//
// A Step describes the first reachable model declaring the segment.
func (r *Resolver) ResolvePath(model string, path []string) ([]Step, error) {
	return r.resolve(model, path, false)
}

// ResolveJoinPath resolves a join path. On top of ResolvePath's checks it
// rejects any hop across a polymorphic belongs-to.
func (r *Resolver) ResolveJoinPath(model string, path []string) ([]Step, error) {
	return r.resolve(model, path, true)
}

func (r *Resolver) resolve(model string, path []string, forJoin bool) ([]Step, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty association path on %s", model)
	}
	steps := make([]Step, 0, len(path))
	current := []string{model}
	var earlierPolymorphic *Hop
	for i, name := range path {
		var declaring []string
		for _, m := range current {
			if r.reg.HasAssociation(m, name) {
				declaring = append(declaring, m)
			}
		}
		if len(declaring) == 0 {
			_, err := r.reg.GetAssociation(current[0], name)
			return nil, err
		}

		var next []string
		stepEarlier := earlierPolymorphic
		for k, owner := range declaring {
			a, err := r.reg.GetAssociation(owner, name)
			if err != nil {
				return nil, err
			}
			hops, err := r.expand(owner, a, map[string]bool{})
			if err != nil {
				return nil, err
			}
			seen := earlierPolymorphic
			crossesPolymorphic := false
			for j := range hops {
				hop := hops[j]
				if hop.IsPolymorphicBelongsTo() {
					if forJoin {
						return nil, &PolymorphicJoinError{Model: hop.Owner.Name, Association: hop.Association.Name, Path: path[:i+1]}
					}
					crossesPolymorphic = true
				}
				if !hop.Association.IsPolymorphic() {
					continue
				}
				if seen != nil &&
					(seen.Association.Type == registry.BelongsTo || hop.Association.Type == registry.BelongsTo) {
					return nil, &PolymorphicCompositionError{
						Model:       hop.Owner.Name,
						Association: hop.Association.Name,
						Earlier:     seen.Owner.Name + "." + seen.Association.Name,
						Path:        path[:i+1],
					}
				}
				seen = &hops[j]
			}
			// a belongs-to seen on any alternative constrains the rest of the path
			if seen != earlierPolymorphic &&
				(stepEarlier == earlierPolymorphic || seen.Association.Type == registry.BelongsTo) {
				stepEarlier = seen
			}
			if k == 0 {
				steps = append(steps, Step{Name: name, Association: a, Hops: hops})
			}
			next = appendUnique(next, r.reachable(a, crossesPolymorphic)...)
		}
		earlierPolymorphic = stepEarlier
		current = next
	}
	return steps, nil
}

// reachable lists the models records loaded through a can be: its targets,
// plus their STI descendants when the rows' types vary.
func (r *Resolver) reachable(a registry.Association, crossesPolymorphic bool) []string {
	out := appendUnique(nil, a.Targets...)
	if !crossesPolymorphic {
		return out
	}
	for _, t := range a.Targets {
		out = appendUnique(out, r.reg.Descendants(t)...)
	}
	return out
}

func appendUnique(out []string, names ...string) []string {
	for _, n := range names {
		found := false
		for _, existing := range out {
			if existing == n {
				found = true
				break
			}
		}
		if !found {
			out = append(out, n)
		}
	}
	return out
}

// AssignBelongsTo points owner at target through a belongs-to association:
// it sets the foreign key, the polymorphic type column (to the target's STI
// root, never the subclass) and marks the association loaded. A nil target
// clears both columns.
func (r *Resolver) AssignBelongsTo(owner *record.Record, name string, target *record.Record) error {
	a, err := r.reg.GetAssociation(owner.Model(), name)
	if err != nil {
		return err
	}
	if a.Type != registry.BelongsTo {
		return fmt.Errorf("association %s.%s is %s, not belongs_to", owner.Model(), name, a.Type)
	}
	if target == nil {
		owner.Set(a.ForeignKey, nil)
		if a.IsPolymorphic() {
			owner.Set(a.ForeignKeyType, nil)
		}
		owner.SetOne(name, nil)
		return nil
	}

	allowed := false
	for _, t := range a.Targets {
		if t == target.Model() || r.isSubclass(target.Model(), t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("association %s.%s cannot point at %s (targets %v)", owner.Model(), name, target.Model(), a.Targets)
	}

	keyColumn := a.PrimaryKey
	if keyColumn == "" {
		keyColumn = target.Meta().PrimaryKey
	}
	owner.Set(a.ForeignKey, target.Get(keyColumn))
	if a.IsPolymorphic() {
		typeName, err := r.types.PolymorphicTypeFor(target.Model())
		if err != nil {
			return err
		}
		owner.Set(a.ForeignKeyType, typeName)
	}
	owner.SetOne(name, target)
	return nil
}

func (r *Resolver) isSubclass(model, ancestor string) bool {
	for _, name := range r.reg.Descendants(ancestor) {
		if name == model {
			return true
		}
	}
	return false
}
