// Package schemafile reads the YAML declaration of models, associations,
// default scopes, serializers and sortable columns, and materializes it into
// the registry, serializer mapper and sortable configs once at startup.
package schemafile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"dreamorm/internal/naming"
	"dreamorm/internal/registry"
	"dreamorm/internal/serializer"
	"dreamorm/internal/sortable"
)

// File is the decoded declaration file.
type File struct {
	Naming      naming.Config    `yaml:"naming"`
	Models      []ModelDecl      `yaml:"models"`
	Serializers []SerializerDecl `yaml:"serializers"`
	Sortables   []SortableDecl   `yaml:"sortables"`
}

// ModelDecl declares one model.
type ModelDecl struct {
	Name          string            `yaml:"name"`
	Table         string            `yaml:"table"`
	PrimaryKey    string            `yaml:"primary_key"`
	Columns       []string          `yaml:"columns"`
	STIBase       bool              `yaml:"sti_base"`
	Extends       string            `yaml:"extends"`
	TypeColumn    string            `yaml:"type_column"`
	DefaultScopes []ScopeDecl       `yaml:"default_scopes"`
	Associations  []AssociationDecl `yaml:"associations"`
}

// ScopeDecl declares a named default scope.
type ScopeDecl struct {
	Name       string         `yaml:"name"`
	Conditions ConditionsDecl `yaml:",inline"`
}

// ConditionsDecl mirrors registry.Conditions. Values may be plain values,
// lists (IN), null (IS NULL) or single-key operator maps such as {gt: 3}.
type ConditionsDecl struct {
	And      map[string]any       `yaml:"and"`
	AndNot   map[string]any       `yaml:"and_not"`
	AndAny   []map[string]any     `yaml:"and_any"`
	Order    []registry.OrderTerm `yaml:"order"`
	Distinct bool                 `yaml:"distinct"`
}

// AssociationDecl declares one association.
type AssociationDecl struct {
	Name                 string         `yaml:"name"`
	Type                 string         `yaml:"type"`
	Targets              []string       `yaml:"targets"`
	ForeignKey           string         `yaml:"foreign_key"`
	ForeignKeyType       string         `yaml:"foreign_key_type"`
	Polymorphic          bool           `yaml:"polymorphic"`
	PrimaryKey           string         `yaml:"primary_key"`
	Through              string         `yaml:"through"`
	Source               string         `yaml:"source"`
	Conditions           ConditionsDecl `yaml:"conditions"`
	WithoutDefaultScopes bool           `yaml:"without_default_scopes"`
}

// SerializerDecl declares the serializer of one model for one key.
type SerializerDecl struct {
	Model  string      `yaml:"model"`
	Key    string      `yaml:"key"`
	Fields []FieldDecl `yaml:"fields"`
}

// FieldDecl declares one serializer field. Kind defaults to attribute.
type FieldDecl struct {
	Kind        string `yaml:"kind"`
	Name        string `yaml:"name"`
	Association string `yaml:"association"`
	Attribute   string `yaml:"attribute"`
	Key         string `yaml:"key"`
	Flatten     bool   `yaml:"flatten"`
}

// SortableDecl declares one sortable column.
type SortableDecl struct {
	Model  string   `yaml:"model"`
	Column string   `yaml:"column"`
	Scope  []string `yaml:"scope"`
}

// Schema is the materialized declaration.
type Schema struct {
	Registry  *registry.Registry
	Mapper    *serializer.Mapper
	Sortables []sortable.Config
}

// Read decodes the file at path. Unknown keys are rejected.
func Read(fs afero.Fs, path string) (*File, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a declaration document.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, err
	}
	return &f, nil
}

// Load reads and builds the file at path.
func Load(fs afero.Fs, path string) (*Schema, error) {
	f, err := Read(fs, path)
	if err != nil {
		return nil, err
	}
	return f.Build()
}

// Build validates the declarations into a Schema.
func (f *File) Build() (*Schema, error) {
	b := registry.NewBuilder(naming.New(f.Naming))
	for _, md := range f.Models {
		m, err := md.model()
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", md.Name, err)
		}
		b.Model(m)
	}
	reg, err := b.Build()
	if err != nil {
		return nil, err
	}

	defs := make([]serializer.Definition, 0, len(f.Serializers))
	for _, sd := range f.Serializers {
		d, err := sd.definition()
		if err != nil {
			return nil, fmt.Errorf("serializer %s/%s: %w", sd.Model, sd.Key, err)
		}
		defs = append(defs, d)
	}
	mapper, err := serializer.NewMapper(reg, defs...)
	if err != nil {
		return nil, err
	}

	sortables := make([]sortable.Config, 0, len(f.Sortables))
	for _, s := range f.Sortables {
		root, err := reg.Root(s.Model)
		if err != nil {
			return nil, fmt.Errorf("sortable %s: %w", s.Model, err)
		}
		if len(root.Columns) > 0 && !root.HasColumn(s.Column) {
			return nil, fmt.Errorf("sortable %s: unknown column %q", s.Model, s.Column)
		}
		sortables = append(sortables, sortable.Config{Model: s.Model, Column: s.Column, Scope: s.Scope})
	}
	return &Schema{Registry: reg, Mapper: mapper, Sortables: sortables}, nil
}

func (md ModelDecl) model() (registry.Model, error) {
	m := registry.Model{
		Name:       md.Name,
		Table:      md.Table,
		PrimaryKey: md.PrimaryKey,
		Columns:    md.Columns,
		STIBase:    md.STIBase,
		Extends:    md.Extends,
		TypeColumn: md.TypeColumn,
	}
	for _, sd := range md.DefaultScopes {
		c, err := sd.Conditions.conditions()
		if err != nil {
			return m, fmt.Errorf("default scope %s: %w", sd.Name, err)
		}
		m.DefaultScopes = append(m.DefaultScopes, registry.Scope{Name: sd.Name, Conditions: c})
	}
	for _, ad := range md.Associations {
		a, err := ad.association()
		if err != nil {
			return m, fmt.Errorf("association %s: %w", ad.Name, err)
		}
		m.Associations = append(m.Associations, a)
	}
	return m, nil
}

func (ad AssociationDecl) association() (registry.Association, error) {
	typ, err := registry.ParseAssociationType(ad.Type)
	if err != nil {
		return registry.Association{}, err
	}
	c, err := ad.Conditions.conditions()
	if err != nil {
		return registry.Association{}, err
	}
	return registry.Association{
		Name:                 ad.Name,
		Type:                 typ,
		Targets:              ad.Targets,
		ForeignKey:           ad.ForeignKey,
		ForeignKeyType:       ad.ForeignKeyType,
		Polymorphic:          ad.Polymorphic,
		PrimaryKey:           ad.PrimaryKey,
		Through:              ad.Through,
		Source:               ad.Source,
		Conditions:           c,
		WithoutDefaultScopes: ad.WithoutDefaultScopes,
	}, nil
}

func (sd SerializerDecl) definition() (serializer.Definition, error) {
	d := serializer.Definition{Model: sd.Model, Key: sd.Key}
	for i, fd := range sd.Fields {
		kind, err := serializer.ParseFieldKind(fd.Kind)
		if err != nil {
			return d, fmt.Errorf("field %d: %w", i, err)
		}
		d.Fields = append(d.Fields, serializer.Field{
			Kind:        kind,
			Name:        fd.Name,
			Association: fd.Association,
			Attribute:   fd.Attribute,
			Key:         fd.Key,
			Flatten:     fd.Flatten,
		})
	}
	return d, nil
}
