// Package record holds fetched rows together with their association slots.
// A slot starts unloaded and is promoted to loaded by a preload or
// join-and-stitch; reading an unloaded slot is an error, not an empty value.
package record

import (
	"fmt"
	"sort"

	"dreamorm/internal/registry"
)

// NotLoadedError is returned when reading an association that was never
// preloaded or joined. It signals a missing Preload call, not a missing row.
type NotLoadedError struct {
	Model       string
	Association string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("association %s.%s was not loaded; add it to Preload or LeftJoinPreload", e.Model, e.Association)
}

type slot struct {
	many bool
	one  *Record
	list []*Record
}

// Record is one row materialized as its concrete model.
type Record struct {
	model *registry.Model
	attrs map[string]any
	slots map[string]*slot
}

// New wraps attrs as a record of model. Byte slices are normalized to strings.
func New(model *registry.Model, attrs map[string]any) *Record {
	normalized := make(map[string]any, len(attrs))
	for k, v := range attrs {
		normalized[k] = NormalizeValue(v)
	}
	return &Record{model: model, attrs: normalized, slots: map[string]*slot{}}
}

// Model returns the concrete model name.
func (r *Record) Model() string {
	return r.model.Name
}

// Meta returns the concrete model metadata.
func (r *Record) Meta() *registry.Model {
	return r.model
}

// Get returns a column value, or nil when absent.
func (r *Record) Get(column string) any {
	return r.attrs[column]
}

// Has reports whether column was selected.
func (r *Record) Has(column string) bool {
	_, ok := r.attrs[column]
	return ok
}

// Set assigns a column value in memory.
func (r *Record) Set(column string, value any) {
	r.attrs[column] = NormalizeValue(value)
}

// PrimaryKey returns the primary key value.
func (r *Record) PrimaryKey() any {
	return r.attrs[r.model.PrimaryKey]
}

// Attributes returns a copy of the column values.
func (r *Record) Attributes() map[string]any {
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// Columns returns the selected column names, sorted.
func (r *Record) Columns() []string {
	cols := make([]string, 0, len(r.attrs))
	for k := range r.attrs {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// IsLoaded reports whether association has been loaded.
func (r *Record) IsLoaded(association string) bool {
	_, ok := r.slots[association]
	return ok
}

// Loaded returns the names of loaded associations, sorted.
func (r *Record) Loaded() []string {
	names := make([]string, 0, len(r.slots))
	for k := range r.slots {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// One returns a loaded single-valued association. A nil record with a nil
// error means the association is loaded and empty.
func (r *Record) One(association string) (*Record, error) {
	s, ok := r.slots[association]
	if !ok {
		return nil, &NotLoadedError{Model: r.model.Name, Association: association}
	}
	if s.many {
		return nil, fmt.Errorf("association %s.%s is has_many; use Many", r.model.Name, association)
	}
	return s.one, nil
}

// Many returns a loaded has-many association.
func (r *Record) Many(association string) ([]*Record, error) {
	s, ok := r.slots[association]
	if !ok {
		return nil, &NotLoadedError{Model: r.model.Name, Association: association}
	}
	if !s.many {
		return nil, fmt.Errorf("association %s.%s is single-valued; use One", r.model.Name, association)
	}
	return s.list, nil
}

// Value returns a loaded association as *Record or []*Record.
func (r *Record) Value(association string) (any, error) {
	s, ok := r.slots[association]
	if !ok {
		return nil, &NotLoadedError{Model: r.model.Name, Association: association}
	}
	if s.many {
		return s.list, nil
	}
	return s.one, nil
}

// SetOne marks a single-valued association loaded. target may be nil.
func (r *Record) SetOne(association string, target *Record) {
	r.slots[association] = &slot{one: target}
}

// SetMany marks a has-many association loaded. A nil list is stored as empty.
func (r *Record) SetMany(association string, targets []*Record) {
	if targets == nil {
		targets = []*Record{}
	}
	r.slots[association] = &slot{many: true, list: targets}
}

// Related returns the records held by a loaded association as a flat list.
func (r *Record) Related(association string) ([]*Record, bool) {
	s, ok := r.slots[association]
	if !ok {
		return nil, false
	}
	if s.many {
		return s.list, true
	}
	if s.one == nil {
		return nil, true
	}
	return []*Record{s.one}, true
}
