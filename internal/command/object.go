package command

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// CreateObject adds an object with a fixed ID.
type CreateObject struct {
	object     state.ID
	kind       state.Kind
	props      ir.Map
	sync       SynchronizationKind
	projection func(*CreateObject) Command
}

// Create allocates an ID from m and builds the create for it.
// The object does not exist until the command is applied.
func Create(m *state.Manager, kind state.Kind, props ir.Map, opts ...Option) *CreateObject {
	return NewCreateObject(m.Allocate(), kind, props, opts...)
}

// NewCreateObject builds a create for an explicit ID.
func NewCreateObject(id state.ID, kind state.Kind, props ir.Map, opts ...Option) *CreateObject {
	o := buildOptions(opts)
	if props == nil {
		props = ir.Map{}
	}
	return &CreateObject{
		object:     id,
		kind:       kind,
		props:      props.Clone(),
		sync:       o.sync,
		projection: o.projection,
	}
}

// Kind returns the kind of the created object.
func (c *CreateObject) Kind() state.Kind { return c.kind }

// Properties returns a copy of the initial properties.
func (c *CreateObject) Properties() ir.Map { return c.props.Clone() }

// Stub returns a create of the same object carrying only the named
// properties, for use as a projection.
func (c *CreateObject) Stub(keep ...string) *CreateObject {
	props := ir.Map{}
	for _, name := range keep {
		if v, ok := c.props[name]; ok {
			props[name] = v
		}
	}
	return &CreateObject{object: c.object, kind: c.kind, props: props, sync: c.sync}
}

// Apply implements Command.
func (c *CreateObject) Apply(m *state.Manager) error {
	if err := m.Insert(c.object, c.kind, c.props); err != nil {
		return fmt.Errorf("create %s: %w", c.object, err)
	}
	return nil
}

// Inverse implements Command.
func (c *CreateObject) Inverse() Command {
	return &RemoveObject{object: c.object, kind: c.kind, props: c.props, sync: c.sync}
}

// IsEmpty implements Command.
func (c *CreateObject) IsEmpty() bool { return false }

// Synchronization implements Command.
func (c *CreateObject) Synchronization() SynchronizationKind { return c.sync }

// Target implements Command.
func (c *CreateObject) Target() state.ID { return c.object }

// Synchronize implements Command. Returns the projection override when set.
func (c *CreateObject) Synchronize() Command {
	if c.projection != nil {
		return c.projection(c)
	}
	return c
}

// Describe implements Command.
func (c *CreateObject) Describe() ir.Map {
	return ir.Map{
		"op":     ir.String(opCreate),
		"object": ir.Int(c.object),
		"kind":   ir.String(c.kind),
		"props":  c.props.Clone(),
		"sync":   ir.String(c.sync.String()),
	}
}

// RemoveObject deletes an object. It carries the object's full snapshot so
// its inverse recreates it exactly.
type RemoveObject struct {
	object state.ID
	kind   state.Kind
	props  ir.Map
	sync   SynchronizationKind
}

// Remove captures the current snapshot of id from m.
func Remove(m *state.Manager, id state.ID, opts ...Option) (*RemoveObject, error) {
	obj, ok := m.Get(id)
	if !ok {
		return nil, &state.ProtocolError{Code: state.ErrCodeMissingObject, Message: "remove", Object: id}
	}
	return NewRemoveObject(id, obj.Kind(), obj.Properties(), opts...), nil
}

// NewRemoveObject builds a remove with an explicit snapshot.
func NewRemoveObject(id state.ID, kind state.Kind, props ir.Map, opts ...Option) *RemoveObject {
	o := buildOptions(opts)
	if props == nil {
		props = ir.Map{}
	}
	return &RemoveObject{object: id, kind: kind, props: props.Clone(), sync: o.sync}
}

// Kind returns the kind of the removed object.
func (c *RemoveObject) Kind() state.Kind { return c.kind }

// Apply implements Command.
func (c *RemoveObject) Apply(m *state.Manager) error {
	if _, err := m.Remove(c.object); err != nil {
		return fmt.Errorf("remove %s: %w", c.object, err)
	}
	return nil
}

// Inverse implements Command.
func (c *RemoveObject) Inverse() Command {
	return &CreateObject{object: c.object, kind: c.kind, props: c.props, sync: c.sync}
}

// IsEmpty implements Command.
func (c *RemoveObject) IsEmpty() bool { return false }

// Synchronization implements Command.
func (c *RemoveObject) Synchronization() SynchronizationKind { return c.sync }

// Target implements Command.
func (c *RemoveObject) Target() state.ID { return c.object }

// Synchronize implements Command.
func (c *RemoveObject) Synchronize() Command { return c }

// Describe implements Command.
func (c *RemoveObject) Describe() ir.Map {
	return ir.Map{
		"op":     ir.String(opRemove),
		"object": ir.Int(c.object),
		"kind":   ir.String(c.kind),
		"props":  c.props.Clone(),
		"sync":   ir.String(c.sync.String()),
	}
}

// Snapshot materializes an object's full current state: it creates the
// object, or overwrites every property of an existing one. It is the
// catch-up command synthesized for a viewer that never saw the object's
// history, and it is not reversible.
type Snapshot struct {
	object state.ID
	kind   state.Kind
	props  ir.Map
}

// SnapshotOf captures obj.
func SnapshotOf(obj *state.Object) *Snapshot {
	return NewSnapshot(obj.ID(), obj.Kind(), obj.Properties())
}

// NewSnapshot builds a snapshot from explicit content.
func NewSnapshot(id state.ID, kind state.Kind, props ir.Map) *Snapshot {
	if props == nil {
		props = ir.Map{}
	}
	return &Snapshot{object: id, kind: kind, props: props.Clone()}
}

// Kind returns the object's kind.
func (c *Snapshot) Kind() state.Kind { return c.kind }

// Properties returns a copy of the captured properties.
func (c *Snapshot) Properties() ir.Map { return c.props.Clone() }

// Apply implements Command.
func (c *Snapshot) Apply(m *state.Manager) error {
	if err := m.Replace(c.object, c.kind, c.props); err != nil {
		return fmt.Errorf("snapshot %s: %w", c.object, err)
	}
	return nil
}

// Inverse implements Command. Snapshots are not reversible.
func (c *Snapshot) Inverse() Command { return nil }

// IsEmpty implements Command.
func (c *Snapshot) IsEmpty() bool { return false }

// Synchronization implements Command.
func (c *Snapshot) Synchronization() SynchronizationKind { return VisibilityGated }

// Target implements Command.
func (c *Snapshot) Target() state.ID { return c.object }

// Synchronize implements Command.
func (c *Snapshot) Synchronize() Command { return c }

// Describe implements Command.
func (c *Snapshot) Describe() ir.Map {
	return ir.Map{
		"op":     ir.String(opSnapshot),
		"object": ir.Int(c.object),
		"kind":   ir.String(c.kind),
		"props":  c.props.Clone(),
	}
}
