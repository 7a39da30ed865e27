package command

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// SynchronizationKind tells the synchronizer how to project a command.
// It is fixed when the command is constructed.
type SynchronizationKind int

const (
	// Structural commands carry no visibility semantics and pass through.
	Structural SynchronizationKind = iota

	// Public commands are visible to every viewer regardless of state.
	Public

	// VisibilityGated commands are delivered only to viewers that can see
	// the target object.
	VisibilityGated

	// Composite commands are projected child by child.
	Composite
)

// String implements fmt.Stringer.
func (k SynchronizationKind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Public:
		return "public"
	case VisibilityGated:
		return "gated"
	case Composite:
		return "composite"
	default:
		return fmt.Sprintf("SynchronizationKind(%d)", int(k))
	}
}

// ParseSynchronizationKind is the inverse of String.
func ParseSynchronizationKind(s string) (SynchronizationKind, error) {
	switch s {
	case "structural":
		return Structural, nil
	case "public":
		return Public, nil
	case "gated":
		return VisibilityGated, nil
	case "composite":
		return Composite, nil
	default:
		return 0, fmt.Errorf("unknown synchronization kind %q", s)
	}
}

// Command is one reversible edit to an object graph.
//
// Commands reference objects by ID and are immutable once built, so one
// instance can be applied to the canonical graph and delivered to every
// replica.
type Command interface {
	// Apply performs the edit on m.
	Apply(m *state.Manager) error

	// Inverse returns the command that undoes this one, or nil if the
	// command is not reversible.
	Inverse() Command

	// IsEmpty reports whether applying the command changes nothing.
	IsEmpty() bool

	// Synchronization returns how the command is projected.
	Synchronization() SynchronizationKind

	// Target returns the object the command pertains to, or 0.
	Target() state.ID

	// Synchronize returns the projection delivered to a viewer that may see
	// the command. Usually the command itself.
	Synchronize() Command

	// Describe returns a canonical description of the command.
	Describe() ir.Map
}

// ResolveObject looks up the command's target in m.
func ResolveObject(c Command, m *state.Manager) (*state.Object, bool) {
	id := c.Target()
	if id == 0 {
		return nil, false
	}
	return m.Get(id)
}

// Option configures a command at construction.
type Option func(*options)

type options struct {
	sync       SynchronizationKind
	projection func(*CreateObject) Command
}

func buildOptions(opts []Option) options {
	o := options{sync: VisibilityGated}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSync overrides the default VisibilityGated synchronization kind.
func WithSync(kind SynchronizationKind) Option {
	return func(o *options) { o.sync = kind }
}

// AsPublic marks the command visible to every viewer.
func AsPublic() Option { return WithSync(Public) }

// AsStructural marks the command as carrying no visibility semantics.
func AsStructural() Option { return WithSync(Structural) }

// WithProjection sets the projection a CreateObject delivers to viewers
// that may see it. Ignored by other commands.
func WithProjection(fn func(*CreateObject) Command) Option {
	return func(o *options) { o.projection = fn }
}
