package command

import (
	"fmt"
	"slices"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// MultiCommand is an ordered group of commands applied as one.
type MultiCommand struct {
	children []Command
}

// NewMulti builds a MultiCommand from children, skipping nils.
func NewMulti(children ...Command) *MultiCommand {
	m := &MultiCommand{}
	for _, c := range children {
		m.Push(c)
	}
	return m
}

// Push appends c in execution order. Nil is ignored.
func (c *MultiCommand) Push(child Command) {
	if child == nil {
		return
	}
	c.children = append(c.children, child)
}

// Children returns the child commands in execution order.
func (c *MultiCommand) Children() []Command { return slices.Clone(c.children) }

// Len returns the number of children.
func (c *MultiCommand) Len() int { return len(c.children) }

// Apply implements Command. Stops at the first failing child.
func (c *MultiCommand) Apply(m *state.Manager) error {
	for i, child := range c.children {
		if err := child.Apply(m); err != nil {
			return fmt.Errorf("multi[%d]: %w", i, err)
		}
	}
	return nil
}

// Inverse implements Command: the child inverses in reverse order.
// Nil if any child is not reversible.
func (c *MultiCommand) Inverse() Command {
	inv := &MultiCommand{children: make([]Command, 0, len(c.children))}
	for i := len(c.children) - 1; i >= 0; i-- {
		ci := c.children[i].Inverse()
		if ci == nil {
			return nil
		}
		inv.children = append(inv.children, ci)
	}
	return inv
}

// IsEmpty implements Command.
func (c *MultiCommand) IsEmpty() bool {
	for _, child := range c.children {
		if !child.IsEmpty() {
			return false
		}
	}
	return true
}

// Synchronization implements Command.
func (c *MultiCommand) Synchronization() SynchronizationKind { return Composite }

// Target implements Command.
func (c *MultiCommand) Target() state.ID { return 0 }

// Synchronize implements Command.
func (c *MultiCommand) Synchronize() Command { return c }

// Describe implements Command.
func (c *MultiCommand) Describe() ir.Map {
	children := make(ir.List, len(c.children))
	for i, child := range c.children {
		children[i] = child.Describe()
	}
	return ir.Map{
		"op":       ir.String(opMulti),
		"children": children,
	}
}

// Flatten returns the leaf commands of c in execution order.
func Flatten(c Command) []Command {
	multi, ok := c.(*MultiCommand)
	if !ok {
		if c == nil {
			return nil
		}
		return []Command{c}
	}
	var out []Command
	for _, child := range multi.children {
		out = append(out, Flatten(child)...)
	}
	return out
}
