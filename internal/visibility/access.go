package visibility

import (
	"strings"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// Access is what a user may do with an object.
type Access uint8

// Access flags.
const (
	AccessNone  Access = 0
	AccessRead  Access = 1 << 0
	AccessWrite Access = 1 << 1

	AccessReadWrite = AccessRead | AccessWrite
)

// CanRead reports whether the read bit is set.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite reports whether the write bit is set.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// String implements fmt.Stringer.
func (a Access) String() string {
	if a == AccessNone {
		return "none"
	}
	var parts []string
	if a.CanRead() {
		parts = append(parts, "read")
	}
	if a.CanWrite() {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "+")
}

// AccessChange reports that a user's access to an object changed.
type AccessChange struct {
	Object state.ID
	User   ViewerKey
	Old    Access
	New    Access
}

// AccessStrategy is the access-control extension point: read governs what
// is replicated, write governs which player may act on an object.
type AccessStrategy interface {
	Access(user ViewerKey, obj *state.Object) (Access, error)
	Subscribe(fn func(AccessChange)) (unsubscribe func())
}

// RulesAccess derives access from Rules: read is visibility, write is
// control. A user controls an object named by the controller property, or
// the owner property when no controller is set.
type RulesAccess struct {
	rules   *Rules
	changes broadcaster[AccessChange]
	unwatch []func()
}

// NewRulesAccess builds an access strategy over rules.
func NewRulesAccess(rules *Rules) *RulesAccess {
	a := &RulesAccess{rules: rules}
	a.unwatch = append(a.unwatch,
		rules.Subscribe(a.onVisibility),
		rules.state.Subscribe(a.onStateChange),
	)
	return a
}

// Close stops watching.
func (a *RulesAccess) Close() {
	for _, fn := range a.unwatch {
		fn()
	}
	a.unwatch = nil
}

// AddViewer implements ViewerTracker.
func (a *RulesAccess) AddViewer(user ViewerKey) { a.rules.AddViewer(user) }

// RemoveViewer implements ViewerTracker.
func (a *RulesAccess) RemoveViewer(user ViewerKey) { a.rules.RemoveViewer(user) }

// Subscribe implements AccessStrategy.
func (a *RulesAccess) Subscribe(fn func(AccessChange)) func() { return a.changes.subscribe(fn) }

// Access implements AccessStrategy.
func (a *RulesAccess) Access(user ViewerKey, obj *state.Object) (Access, error) {
	if obj == nil {
		return AccessNone, ErrNilObject
	}
	var acc Access
	if a.rules.visible(obj, user, nil, 0) {
		acc |= AccessRead
	}
	if a.controls(obj, user) {
		acc |= AccessWrite
	}
	return acc, nil
}

func (a *RulesAccess) controls(obj *state.Object, user ViewerKey) bool {
	p := a.rules.policy
	controller := ""
	if p.ControllerProperty != "" {
		controller = obj.String(p.ControllerProperty)
	}
	if controller == "" {
		controller = obj.String(p.OwnerProperty)
	}
	return controller != "" && ViewerKey(controller) == user
}

func (a *RulesAccess) onVisibility(c Change) {
	obj, ok := a.rules.state.Get(c.Object)
	if !ok {
		return
	}
	write := AccessNone
	if a.controls(obj, c.Viewer) {
		write = AccessWrite
	}
	old, next := write, write
	if c.Visible {
		next |= AccessRead
	} else {
		old |= AccessRead
	}
	a.changes.emit(AccessChange{Object: c.Object, User: c.Viewer, Old: old, New: next})
}

// onStateChange reports write flips caused by controller or owner changes.
func (a *RulesAccess) onStateChange(c state.Change) {
	p := a.rules.policy
	if c.Op != state.ChangeSet {
		return
	}
	if c.Property != p.ControllerProperty && c.Property != p.OwnerProperty {
		return
	}
	obj, ok := a.rules.state.Get(c.Object)
	if !ok {
		return
	}
	props := obj.Properties()
	if c.Old == nil {
		delete(props, c.Property)
	} else {
		props[c.Property] = ir.Clone(c.Old)
	}
	before := state.NewDetached(obj.ID(), obj.Kind(), props)

	for _, user := range a.rules.Viewers() {
		was := a.controls(before, user)
		now := a.controls(obj, user)
		if was == now {
			continue
		}
		// Read flips are reported by onVisibility.
		read := AccessNone
		if a.rules.visible(obj, user, nil, 0) {
			read = AccessRead
		}
		old, next := read, read
		if was {
			old |= AccessWrite
		}
		if now {
			next |= AccessWrite
		}
		a.changes.emit(AccessChange{Object: c.Object, User: user, Old: old, New: next})
	}
}

// VisibilityFromAccess adapts an AccessStrategy to a Strategy: an object is
// visible to a user with read access.
func VisibilityFromAccess(a AccessStrategy) Strategy {
	return accessVisibility{access: a}
}

type accessVisibility struct {
	access AccessStrategy
}

func (v accessVisibility) IsVisible(obj *state.Object, viewer ViewerKey) (bool, error) {
	acc, err := v.access.Access(viewer, obj)
	if err != nil {
		return false, err
	}
	return acc.CanRead(), nil
}

func (v accessVisibility) AddViewer(viewer ViewerKey) {
	if t, ok := v.access.(ViewerTracker); ok {
		t.AddViewer(viewer)
	}
}

func (v accessVisibility) RemoveViewer(viewer ViewerKey) {
	if t, ok := v.access.(ViewerTracker); ok {
		t.RemoveViewer(viewer)
	}
}

func (v accessVisibility) Subscribe(fn func(Change)) func() {
	return v.access.Subscribe(func(c AccessChange) {
		if c.Old.CanRead() == c.New.CanRead() {
			return
		}
		fn(Change{Object: c.Object, Viewer: c.User, Visible: c.New.CanRead()})
	})
}
