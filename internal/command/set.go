package command

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// SetProperty assigns one property. A nil Value removes the property.
type SetProperty struct {
	object   state.ID
	name     string
	value    ir.Value
	previous ir.Value
	sync     SynchronizationKind
}

// Set builds a SetProperty against the current value in m.
func Set(m *state.Manager, id state.ID, name string, value ir.Value, opts ...Option) (*SetProperty, error) {
	obj, ok := m.Get(id)
	if !ok {
		return nil, &state.ProtocolError{Code: state.ErrCodeMissingObject, Message: fmt.Sprintf("set %q", name), Object: id}
	}
	previous, _ := obj.Get(name)
	return NewSetProperty(id, name, value, previous, opts...), nil
}

// NewSetProperty builds a SetProperty with an explicit previous value.
func NewSetProperty(id state.ID, name string, value, previous ir.Value, opts ...Option) *SetProperty {
	o := buildOptions(opts)
	return &SetProperty{
		object:   id,
		name:     name,
		value:    ir.Clone(value),
		previous: ir.Clone(previous),
		sync:     o.sync,
	}
}

// Property returns the property name.
func (c *SetProperty) Property() string { return c.name }

// Value returns the new value (nil means removal).
func (c *SetProperty) Value() ir.Value { return c.value }

// Previous returns the value before the command.
func (c *SetProperty) Previous() ir.Value { return c.previous }

// Apply implements Command.
func (c *SetProperty) Apply(m *state.Manager) error {
	if _, err := m.Set(c.object, c.name, c.value); err != nil {
		return fmt.Errorf("set %s.%s: %w", c.object, c.name, err)
	}
	return nil
}

// Inverse implements Command.
func (c *SetProperty) Inverse() Command {
	return &SetProperty{
		object:   c.object,
		name:     c.name,
		value:    c.previous,
		previous: c.value,
		sync:     c.sync,
	}
}

// IsEmpty implements Command.
func (c *SetProperty) IsEmpty() bool { return ir.Equal(c.value, c.previous) }

// Synchronization implements Command.
func (c *SetProperty) Synchronization() SynchronizationKind { return c.sync }

// Target implements Command.
func (c *SetProperty) Target() state.ID { return c.object }

// Synchronize implements Command.
func (c *SetProperty) Synchronize() Command { return c }

// Describe implements Command.
func (c *SetProperty) Describe() ir.Map {
	d := ir.Map{
		"op":       ir.String(opSet),
		"object":   ir.Int(c.object),
		"property": ir.String(c.name),
		"sync":     ir.String(c.sync.String()),
	}
	if c.value != nil {
		d["value"] = c.value
	}
	if c.previous != nil {
		d["previous"] = c.previous
	}
	return d
}
