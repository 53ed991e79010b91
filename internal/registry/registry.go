package registry

import (
	"fmt"
	"sort"

	"dreamorm/internal/naming"
)

const (
	defaultPrimaryKey = "id"
	defaultTypeColumn = "type"
)

// Registry is the immutable model and association catalogue.
// Returned *Model values are shared and must not be mutated.
type Registry struct {
	models map[string]*Model
	order  []string
	namer  *naming.Namer
}

// Model returns the metadata for name.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, &UnknownModelError{Model: name}
	}
	return m, nil
}

// Models returns all model names in registration order.
func (r *Registry) Models() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ListAssociations returns the ordered associations declared on model,
// including those inherited from an STI parent.
func (r *Registry) ListAssociations(model string) ([]Association, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	out := make([]Association, len(m.Associations))
	copy(out, m.Associations)
	return out, nil
}

// GetAssociation looks up one association by name.
func (r *Registry) GetAssociation(model, name string) (Association, error) {
	m, err := r.Model(model)
	if err != nil {
		return Association{}, err
	}
	if a, ok := m.association(name); ok {
		return a, nil
	}
	names := make([]string, len(m.Associations))
	for i, a := range m.Associations {
		names[i] = a.Name
	}
	return Association{}, &UnknownAssociationError{
		Model:       model,
		Association: name,
		Suggestion:  closestName(name, names),
	}
}

// HasAssociation reports whether model declares name.
func (r *Registry) HasAssociation(model, name string) bool {
	m, ok := r.models[model]
	if !ok {
		return false
	}
	_, ok = m.association(name)
	return ok
}

// Root returns the STI root of model, or model itself when it extends nothing.
func (r *Registry) Root(model string) (*Model, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	for m.Extends != "" {
		m = r.models[m.Extends]
	}
	return m, nil
}

// Descendants returns model followed by every STI subclass below it, depth first.
func (r *Registry) Descendants(model string) []string {
	m, ok := r.models[model]
	if !ok {
		return nil
	}
	out := []string{m.Name}
	for _, child := range m.ExtendedBy {
		out = append(out, r.Descendants(child)...)
	}
	return out
}

// Builder accumulates model declarations and validates them into a Registry.
type Builder struct {
	namer  *naming.Namer
	models []Model
}

// NewBuilder creates a Builder. A nil namer uses naming defaults.
func NewBuilder(namer *naming.Namer) *Builder {
	if namer == nil {
		namer = naming.Default()
	}
	return &Builder{namer: namer}
}

// Model adds a declaration. Declarations are copied.
func (b *Builder) Model(m Model) *Builder {
	m.Associations = append([]Association(nil), m.Associations...)
	m.DefaultScopes = append([]Scope(nil), m.DefaultScopes...)
	m.Columns = append([]string(nil), m.Columns...)
	b.models = append(b.models, m)
	return b
}

// Build validates every declaration and returns the registry.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{models: make(map[string]*Model, len(b.models)), namer: b.namer}
	for i := range b.models {
		m := b.models[i]
		if m.Name == "" {
			return nil, fmt.Errorf("model at index %d has no name", i)
		}
		if _, dup := reg.models[m.Name]; dup {
			return nil, fmt.Errorf("model %s declared twice", m.Name)
		}
		m.ExtendedBy = nil
		reg.models[m.Name] = &m
		reg.order = append(reg.order, m.Name)
	}

	if err := b.linkInheritance(reg); err != nil {
		return nil, err
	}
	for _, name := range b.inheritanceOrder(reg) {
		b.applyModelDefaults(reg, reg.models[name])
	}
	for _, name := range reg.order {
		if err := b.applyAssociationDefaults(reg, reg.models[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range reg.order {
		if err := b.validateThrough(reg, reg.models[name]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (b *Builder) linkInheritance(reg *Registry) error {
	for _, name := range reg.order {
		m := reg.models[name]
		if m.Extends == "" {
			continue
		}
		parent, ok := reg.models[m.Extends]
		if !ok {
			return fmt.Errorf("model %s extends unknown model %s", m.Name, m.Extends)
		}
		parent.ExtendedBy = append(parent.ExtendedBy, m.Name)
		seen := map[string]bool{m.Name: true}
		for p := parent; p != nil; p = reg.models[p.Extends] {
			if seen[p.Name] {
				return fmt.Errorf("model %s has an inheritance cycle", m.Name)
			}
			seen[p.Name] = true
			if p.Extends == "" {
				break
			}
		}
	}
	for _, name := range reg.order {
		m := reg.models[name]
		if m.Extends == "" && len(m.ExtendedBy) > 0 {
			m.STIBase = true
		}
		sort.Strings(m.ExtendedBy)
	}
	return nil
}

// inheritanceOrder lists models so that every STI parent precedes its children.
func (b *Builder) inheritanceOrder(reg *Registry) []string {
	out := make([]string, 0, len(reg.order))
	for _, name := range reg.order {
		if reg.models[name].Extends == "" {
			out = append(out, reg.Descendants(name)...)
		}
	}
	return out
}

func (b *Builder) applyModelDefaults(reg *Registry, m *Model) {
	if m.Extends != "" {
		parent := reg.models[m.Extends]
		m.Table = parent.Table
		m.PrimaryKey = parent.PrimaryKey
		m.TypeColumn = parent.TypeColumn
		m.Columns = mergeColumns(parent.Columns, m.Columns)
		m.Associations = mergeAssociations(parent.Associations, m.Associations)
		m.DefaultScopes = mergeScopes(parent.DefaultScopes, m.DefaultScopes)
		return
	}
	if m.Table == "" {
		m.Table = b.namer.TableName(m.Name)
	}
	if m.PrimaryKey == "" {
		m.PrimaryKey = defaultPrimaryKey
	}
	if m.TypeColumn == "" {
		m.TypeColumn = defaultTypeColumn
	}
}

func (b *Builder) applyAssociationDefaults(reg *Registry, m *Model) error {
	root, _ := reg.Root(m.Name)
	seen := make(map[string]bool, len(m.Associations))
	for i := range m.Associations {
		a := &m.Associations[i]
		if a.Name == "" {
			return &InvalidAssociationError{Model: m.Name, Reason: "association has no name"}
		}
		if seen[a.Name] {
			return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "declared twice"}
		}
		seen[a.Name] = true
		a.Owner = m.Name
		if a.Type < BelongsTo || a.Type > HasMany {
			return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "missing association type"}
		}
		if a.IsThrough() {
			if a.Type == BelongsTo {
				return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "belongs_to cannot be declared through another association"}
			}
			continue
		}
		if len(a.Targets) == 0 {
			return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "no target model"}
		}
		for _, target := range a.Targets {
			if _, ok := reg.models[target]; !ok {
				return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: fmt.Sprintf("unknown target model %s", target)}
			}
		}
		if len(a.Targets) > 1 && a.Type != BelongsTo {
			return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "only belongs_to may list several targets"}
		}
		switch a.Type {
		case BelongsTo:
			if a.ForeignKey == "" {
				a.ForeignKey = b.namer.BelongsToForeignKey(a.Name)
			}
		default:
			if a.ForeignKey == "" {
				if a.IsPolymorphic() {
					return &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "polymorphic has_one/has_many needs an explicit foreign key"}
				}
				a.ForeignKey = b.namer.ForeignKeyFor(root.Name)
			}
		}
		if a.IsPolymorphic() && a.ForeignKeyType == "" {
			a.ForeignKeyType = b.namer.PolymorphicTypeColumn(a.ForeignKey)
		}
	}
	return nil
}

// validateThrough checks every through association resolves to a direct one
// and fills in its targets from the end of the chain.
func (b *Builder) validateThrough(reg *Registry, m *Model) error {
	for i := range m.Associations {
		a := &m.Associations[i]
		if !a.IsThrough() {
			continue
		}
		targets, err := b.resolveThroughTargets(reg, m, *a, map[string]bool{})
		if err != nil {
			return err
		}
		if len(a.Targets) == 0 {
			a.Targets = targets
		}
	}
	return nil
}

func (b *Builder) resolveThroughTargets(reg *Registry, m *Model, a Association, visiting map[string]bool) ([]string, error) {
	key := m.Name + "." + a.Name
	if visiting[key] {
		return nil, &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: "through chain is cyclic"}
	}
	visiting[key] = true
	defer delete(visiting, key)

	if !a.IsThrough() {
		return a.Targets, nil
	}
	via, ok := m.association(a.Through)
	if !ok {
		return nil, &InvalidAssociationError{Model: m.Name, Association: a.Name, Reason: fmt.Sprintf("through association %q is not declared", a.Through)}
	}
	viaTargets, err := b.resolveThroughTargets(reg, m, via, visiting)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, targetName := range viaTargets {
		target := reg.models[targetName]
		source, err := reg.Source(target.Name, a)
		if err != nil {
			return nil, err
		}
		if source.IsThrough() && !a.Conditions.IsZero() {
			return nil, &ThroughSourceConditionsError{Model: m.Name, Association: a.Name, Source: source.Name}
		}
		targets, err := b.resolveThroughTargets(reg, target, source, visiting)
		if err != nil {
			return nil, err
		}
		out = appendUnique(out, targets...)
	}
	return out, nil
}

// Source returns the association on target that the through association a
// follows: a.Source when set, otherwise a.Name or its singular/plural form.
func (r *Registry) Source(target string, a Association) (Association, error) {
	m, err := r.Model(target)
	if err != nil {
		return Association{}, err
	}
	candidates := []string{a.Source}
	if a.Source == "" {
		candidates = r.namer.SourceCandidates(a.Name)
	}
	for _, name := range candidates {
		if src, ok := m.association(name); ok {
			return src, nil
		}
	}
	return Association{}, &InvalidAssociationError{
		Model:       a.Owner,
		Association: a.Name,
		Reason:      fmt.Sprintf("no source association on %s (tried %v)", target, candidates),
	}
}

func mergeColumns(parent, child []string) []string {
	return appendUnique(append([]string(nil), parent...), child...)
}

func mergeAssociations(parent, child []Association) []Association {
	out := make([]Association, 0, len(parent)+len(child))
	overridden := make(map[string]Association, len(child))
	for _, a := range child {
		overridden[a.Name] = a
	}
	for _, a := range parent {
		if c, ok := overridden[a.Name]; ok {
			out = append(out, c)
			delete(overridden, a.Name)
			continue
		}
		out = append(out, a)
	}
	for _, a := range child {
		if _, ok := overridden[a.Name]; ok {
			out = append(out, a)
		}
	}
	return out
}

func mergeScopes(parent, child []Scope) []Scope {
	out := make([]Scope, 0, len(parent)+len(child))
	names := make(map[string]int)
	for _, s := range parent {
		names[s.Name] = len(out)
		out = append(out, s)
	}
	for _, s := range child {
		if idx, ok := names[s.Name]; ok && s.Name != "" {
			out[idx] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
