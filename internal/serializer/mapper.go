package serializer

import (
	"fmt"
	"slices"
	"strings"

	"dreamorm/internal/query"
	"dreamorm/internal/record"
	"dreamorm/internal/registry"
)

type definitionKey struct {
	model string
	key   string
}

// Mapper resolves serializers by model and key. It is immutable after
// construction.
type Mapper struct {
	reg  *registry.Registry
	defs map[definitionKey]Definition
}

// NewMapper validates defs against reg.
func NewMapper(reg *registry.Registry, defs ...Definition) (*Mapper, error) {
	m := &Mapper{reg: reg, defs: make(map[definitionKey]Definition, len(defs))}
	for _, d := range defs {
		if d.Key == "" {
			d.Key = DefaultKey
		}
		if _, err := reg.Model(d.Model); err != nil {
			return nil, fmt.Errorf("serializer %s/%s: %w", d.Model, d.Key, err)
		}
		k := definitionKey{d.Model, d.Key}
		if _, dup := m.defs[k]; dup {
			return nil, fmt.Errorf("serializer %s/%s declared twice", d.Model, d.Key)
		}
		for i, f := range d.Fields {
			if err := m.validateField(d, f); err != nil {
				return nil, fmt.Errorf("serializer %s/%s field %d: %w", d.Model, d.Key, i, err)
			}
		}
		m.defs[k] = d
	}
	return m, nil
}

func (m *Mapper) validateField(d Definition, f Field) error {
	switch f.Kind {
	case Attribute:
		if f.Attribute == "" {
			return fmt.Errorf("attribute field needs a column")
		}
		return nil
	case Delegated, RendersOne, RendersMany:
	default:
		return fmt.Errorf("unknown field kind %s", f.Kind)
	}
	a, err := m.reg.GetAssociation(d.Model, f.Association)
	if err != nil {
		return err
	}
	switch {
	case f.Kind == Delegated && a.Type == registry.HasMany:
		return fmt.Errorf("cannot delegate %s through has_many association %s", f.Attribute, a.Name)
	case f.Kind == Delegated && f.Attribute == "":
		return fmt.Errorf("delegated field %s needs an attribute", a.Name)
	case f.Kind == RendersMany && a.Type != registry.HasMany:
		return fmt.Errorf("renders_many used with %s association %s", a.Type, a.Name)
	case f.Kind == RendersOne && a.Type == registry.HasMany:
		return fmt.Errorf("renders_one used with has_many association %s", a.Name)
	}
	return nil
}

// Definitions returns the declared serializers sorted by model and key.
func (m *Mapper) Definitions() []Definition {
	out := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Definition) int {
		if c := strings.Compare(a.Model, b.Model); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

// Lookup returns the serializer for model and key, falling back to the
// closest STI ancestor that declares one.
func (m *Mapper) Lookup(model, key string) (Definition, error) {
	if key == "" {
		key = DefaultKey
	}
	for name := model; name != ""; {
		if d, ok := m.defs[definitionKey{name, key}]; ok {
			return d, nil
		}
		meta, err := m.reg.Model(name)
		if err != nil {
			return Definition{}, err
		}
		name = meta.Extends
	}
	return Definition{}, &MissingSerializerError{Model: model, Key: key}
}

// PreloadPaths returns the association paths that rendering model with key
// needs loaded, in declaration order. Duplicates and paths that are a
// prefix of a longer path are dropped.
func (m *Mapper) PreloadPaths(model, key string) ([][]string, error) {
	var paths [][]string
	if err := m.collect(model, key, nil, nil, &paths); err != nil {
		return nil, err
	}
	return collapse(paths), nil
}

func (m *Mapper) collect(model, key string, prefix []string, stack []string, out *[][]string) error {
	d, err := m.Lookup(model, key)
	if err != nil {
		return err
	}
	frame := d.Model + "/" + d.Key
	if slices.Contains(stack, frame) {
		return &CycleError{Path: append(slices.Clone(stack), frame)}
	}
	stack = append(stack, frame)

	for _, f := range d.Fields {
		if f.Kind == Attribute {
			continue
		}
		path := append(slices.Clip(prefix), f.Association)
		*out = append(*out, path)
		if f.Kind == Delegated || f.Flatten {
			continue
		}
		a, err := m.reg.GetAssociation(model, f.Association)
		if err != nil {
			return err
		}
		for _, target := range m.renderTargets(a) {
			if err := m.collect(target, m.nestedKey(f, key, target), path, stack, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderTargets lists every model a record reached through a can be:
// each declared target and its STI descendants.
func (m *Mapper) renderTargets(a registry.Association) []string {
	var out []string
	for _, t := range a.Targets {
		for _, name := range m.reg.Descendants(t) {
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

func collapse(paths [][]string) [][]string {
	seen := make(map[string]bool, len(paths))
	var unique [][]string
	for _, p := range paths {
		k := strings.Join(p, ".")
		if !seen[k] {
			seen[k] = true
			unique = append(unique, p)
		}
	}
	out := make([][]string, 0, len(unique))
	for i, p := range unique {
		covered := false
		for j, other := range unique {
			if i != j && len(other) > len(p) && slices.Equal(other[:len(p)], p) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}

// Apply adds the preload paths for key to q.
func (m *Mapper) Apply(q query.Query, key string) (query.Query, error) {
	paths, err := m.PreloadPaths(q.Model().Name, key)
	if err != nil {
		return q, err
	}
	for _, p := range paths {
		q = q.Preload(p...)
	}
	return q, nil
}

// Render renders rec with key. Associations the serializer needs must have
// been loaded; an unloaded one surfaces as *record.NotLoadedError.
func (m *Mapper) Render(rec *record.Record, key string) (map[string]any, error) {
	return m.render(rec, key, nil)
}

// RenderAll renders every record with key.
func (m *Mapper) RenderAll(records []*record.Record, key string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		r, err := m.Render(rec, key)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Mapper) render(rec *record.Record, key string, stack []string) (map[string]any, error) {
	d, err := m.Lookup(rec.Model(), key)
	if err != nil {
		return nil, err
	}
	frame := d.Model + "/" + d.Key
	if slices.Contains(stack, frame) {
		return nil, &CycleError{Path: append(slices.Clone(stack), frame)}
	}
	stack = append(stack, frame)

	out := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		switch f.Kind {
		case Attribute:
			out[f.outputName()] = rec.Get(f.Attribute)
		case Delegated:
			target, err := rec.One(f.Association)
			if err != nil {
				return nil, err
			}
			var v any
			if target != nil {
				v = target.Get(f.Attribute)
			}
			out[f.outputName()] = v
		case RendersOne:
			target, err := rec.One(f.Association)
			if err != nil {
				return nil, err
			}
			if f.Flatten {
				if target == nil {
					continue
				}
				if err := m.flatten(out, target, m.nestedKey(f, key, target.Model())); err != nil {
					return nil, err
				}
				continue
			}
			if target == nil {
				out[f.outputName()] = nil
				continue
			}
			nested, err := m.render(target, m.nestedKey(f, key, target.Model()), stack)
			if err != nil {
				return nil, err
			}
			out[f.outputName()] = nested
		case RendersMany:
			targets, err := rec.Many(f.Association)
			if err != nil {
				return nil, err
			}
			list := make([]map[string]any, 0, len(targets))
			for _, t := range targets {
				nested, err := m.render(t, m.nestedKey(f, key, t.Model()), stack)
				if err != nil {
					return nil, err
				}
				list = append(list, nested)
			}
			out[f.outputName()] = list
		}
	}
	return out, nil
}

// nestedKey picks the serializer for a nested association on target: the
// field's explicit key, else the parent's key when target declares it, else
// DefaultKey.
func (m *Mapper) nestedKey(f Field, key, target string) string {
	if f.Key != "" {
		return f.Key
	}
	if _, err := m.Lookup(target, key); err == nil {
		return key
	}
	return DefaultKey
}

// flatten merges the plain attributes of target's serializer into out. A
// nil target contributes nothing.
func (m *Mapper) flatten(out map[string]any, target *record.Record, key string) error {
	if target == nil {
		return nil
	}
	d, err := m.Lookup(target.Model(), key)
	if err != nil {
		return err
	}
	for _, f := range d.Fields {
		if f.Kind == Attribute {
			out[f.outputName()] = target.Get(f.Attribute)
		}
	}
	return nil
}
