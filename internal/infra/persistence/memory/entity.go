package memory

import (
	"reflect"
	"sort"

	"commitwatch/internal/tracking"
	"commitwatch/pkg/domain"
)

// Compile-time assertion that entities can be tracked by the engine.
var _ tracking.Trackable = (*Entity)(nil)

// Entity is a row of a class table held as an attribute map. It keeps the
// values of its last save so pending attribute changes can be reported to
// the engine, and carries the engine's per-record tracker.
type Entity struct {
	tracker   tracking.Tracker
	class     *domain.Class
	id        string
	attrs     map[string]any
	saved     map[string]any
	dirty     []string
	persisted bool
	destroyed bool
}

// NewEntity builds an unsaved entity of class with the given attributes.
// An "id" attribute, when present, becomes the primary key on create.
func NewEntity(class *domain.Class, attrs map[string]any) *Entity {
	e := &Entity{class: class, attrs: make(map[string]any, len(attrs)), saved: map[string]any{}}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "id" {
			if id, ok := attrs[k].(string); ok {
				e.id = id
			}
			continue
		}
		e.Set(k, attrs[k])
	}
	return e
}

func loadEntity(class *domain.Class, id string, attrs map[string]any) *Entity {
	return &Entity{
		class:     class,
		id:        id,
		attrs:     cloneAttrs(attrs),
		saved:     cloneAttrs(attrs),
		persisted: true,
	}
}

// Class implements domain.Record.
func (e *Entity) Class() *domain.Class { return e.class }

// ID implements domain.Record.
func (e *Entity) ID() string { return e.id }

// Persisted implements domain.Record.
func (e *Entity) Persisted() bool { return e.persisted }

// Destroyed reports whether the entity was deleted.
func (e *Entity) Destroyed() bool { return e.destroyed }

// Attr implements domain.Record.
func (e *Entity) Attr(name string) any { return e.attrs[name] }

// Tracker implements tracking.Trackable.
func (e *Entity) Tracker() *tracking.Tracker { return &e.tracker }

// Set assigns an attribute in memory. The write reaches the store on Save.
func (e *Entity) Set(name string, value any) {
	e.attrs[name] = value
	for _, d := range e.dirty {
		if d == name {
			return
		}
	}
	e.dirty = append(e.dirty, name)
}

// Attrs returns a copy of the current attributes.
func (e *Entity) Attrs() map[string]any { return cloneAttrs(e.attrs) }

// Changed reports whether name differs from its last saved value.
func (e *Entity) Changed(name string) bool {
	return !reflect.DeepEqual(e.attrs[name], e.saved[name])
}

// Was returns the value of name as of the last save.
func (e *Entity) Was(name string) any { return e.saved[name] }

// Changes returns the unsaved attribute writes in assignment order.
func (e *Entity) Changes() []domain.AttributeChange {
	var out []domain.AttributeChange
	for _, name := range e.dirty {
		if !e.Changed(name) {
			continue
		}
		out = append(out, domain.AttributeChange{Name: name, Before: e.saved[name], After: e.attrs[name]})
	}
	return out
}

func (e *Entity) markSaved() {
	e.saved = cloneAttrs(e.attrs)
	e.dirty = nil
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
