// Package serializer maps a model's declared rendering graph to the preload
// paths it needs and renders loaded records into nested maps.
package serializer

import (
	"fmt"
	"strings"
)

// DefaultKey is the rendering key used when none is given.
const DefaultKey = "default"

// FieldKind is the shape of one rendered field.
type FieldKind int

const (
	// Attribute renders a column of the record itself.
	Attribute FieldKind = iota + 1
	// Delegated renders one column of a belongs-to or has-one target.
	Delegated
	// RendersOne renders a single associated record with its own serializer.
	RendersOne
	// RendersMany renders a list of associated records.
	RendersMany
)

func (k FieldKind) String() string {
	switch k {
	case Attribute:
		return "attribute"
	case Delegated:
		return "delegated"
	case RendersOne:
		return "renders_one"
	case RendersMany:
		return "renders_many"
	default:
		return fmt.Sprintf("field_kind(%d)", int(k))
	}
}

// ParseFieldKind accepts the names produced by String.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "attribute", "":
		return Attribute, nil
	case "delegated", "delegate":
		return Delegated, nil
	case "renders_one", "one":
		return RendersOne, nil
	case "renders_many", "many":
		return RendersMany, nil
	default:
		return 0, fmt.Errorf("unknown serializer field kind %q", s)
	}
}

// Field is one entry of a serializer.
type Field struct {
	Kind FieldKind
	// Name is the output key. It defaults to Attribute for attributes and to
	// Association otherwise.
	Name        string
	Association string
	// Attribute is the column read from the record, or from the target for
	// delegated fields.
	Attribute string
	// Key selects the target serializer for RendersOne and RendersMany.
	// Empty means the key being rendered.
	Key string
	// Flatten merges the target's attributes into the parent output instead
	// of nesting them. Only the target's plain attributes are rendered.
	Flatten bool
}

func (f Field) outputName() string {
	if f.Name != "" {
		return f.Name
	}
	if f.Kind == Attribute {
		return f.Attribute
	}
	return f.Association
}

// Definition is the serializer of one model for one rendering key.
type Definition struct {
	Model  string
	Key    string
	Fields []Field
}

// CycleError reports a serializer graph that renders itself recursively.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "serializer cycle: " + strings.Join(e.Path, " -> ")
}

// MissingSerializerError reports a model with no serializer for a key.
type MissingSerializerError struct {
	Model string
	Key   string
}

func (e *MissingSerializerError) Error() string {
	return fmt.Sprintf("no %q serializer declared for model %s", e.Key, e.Model)
}
