package state

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
)

// ID identifies an object within one graph and every faithful replica of it.
// Zero is never allocated.
type ID int64

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("#%d", int64(id))
}

// Kind names the category of an object (game, player, card, ability, ...).
// Visibility policies branch on it.
type Kind string

// Object is one entity in the graph. It is owned by exactly one Manager and is
// only mutated through that Manager.
type Object struct {
	id    ID
	kind  Kind
	props ir.Map
}

// NewDetached builds an object that belongs to no manager.
// Used to evaluate policies against snapshots of removed objects.
func NewDetached(id ID, kind Kind, props ir.Map) *Object {
	return &Object{id: id, kind: kind, props: props.Clone()}
}

// ID returns the object's identifier.
func (o *Object) ID() ID { return o.id }

// Kind returns the object's kind.
func (o *Object) Kind() Kind { return o.kind }

// Get returns a property value.
func (o *Object) Get(name string) (ir.Value, bool) {
	v, ok := o.props[name]
	return v, ok
}

// String returns a string property, or "" if absent or not a string.
func (o *Object) String(name string) string {
	if v, ok := o.props[name].(ir.String); ok {
		return string(v)
	}
	return ""
}

// Int returns an integer property, or 0 if absent or not an integer.
func (o *Object) Int(name string) int64 {
	if v, ok := o.props[name].(ir.Int); ok {
		return int64(v)
	}
	return 0
}

// Properties returns a deep copy of every property.
func (o *Object) Properties() ir.Map {
	if o.props == nil {
		return ir.Map{}
	}
	return o.props.Clone()
}

// Len returns the number of properties.
func (o *Object) Len() int { return len(o.props) }
