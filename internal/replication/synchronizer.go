package replication

import (
	"log/slog"
	"slices"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/visibility"
)

// View is the projection state of one registered client: what its replica
// holds and what was suppressed for it. A View is owned by the Source that
// created it.
type View struct {
	viewer visibility.ViewerKey

	// pending holds suppressed commands per object, in commit order.
	pending map[state.ID]*pendingUpdate

	// known holds the objects the replica has. The value is false when the
	// replica only holds a stub projection of the object.
	known map[state.ID]bool
}

// NewView creates empty projection state for viewer.
func NewView(viewer visibility.ViewerKey) *View {
	return &View{
		viewer:  viewer,
		pending: make(map[state.ID]*pendingUpdate),
		known:   make(map[state.ID]bool),
	}
}

// Viewer returns the viewer key.
func (v *View) Viewer() visibility.ViewerKey { return v.viewer }

// Knows reports whether the replica holds the object.
func (v *View) Knows(id state.ID) bool {
	_, ok := v.known[id]
	return ok
}

// HoldsFullCopy reports whether the replica holds the object with every
// property, rather than a stub projection of it.
func (v *View) HoldsFullCopy(id state.ID) bool { return v.known[id] }

// Pending returns the queued update for id without consuming it.
func (v *View) Pending(id state.ID) command.Command {
	p, ok := v.pending[id]
	if !ok {
		return nil
	}
	return p.command()
}

// PendingObjects returns the objects with queued updates, in ID order.
func (v *View) PendingObjects() []state.ID {
	ids := make([]state.ID, 0, len(v.pending))
	for id := range v.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TakePendingUpdate returns and clears the queued update for id.
// Returns nil when nothing was suppressed for the object.
func (v *View) TakePendingUpdate(id state.ID) command.Command {
	p, ok := v.pending[id]
	if !ok {
		return nil
	}
	delete(v.pending, id)
	return p.command()
}

func (v *View) ready(id state.ID) bool {
	_, pending := v.pending[id]
	return v.Knows(id) && !pending
}

func (v *View) suppress(id state.ID, c command.Command) {
	p, ok := v.pending[id]
	if !ok {
		p = &pendingUpdate{}
		v.pending[id] = p
	}
	p.add(c)
}

// track records what a delivered command leaves in the replica. A create
// delivered as a stub projection marks the object as partially known.
func (v *View) track(delivered command.Command, stub bool) {
	for _, leaf := range command.Flatten(delivered) {
		id := leaf.Target()
		if id == 0 {
			continue
		}
		switch leaf.(type) {
		case *command.CreateObject:
			v.known[id] = !stub
		case *command.Snapshot:
			v.known[id] = true
		case *command.RemoveObject:
			delete(v.known, id)
			delete(v.pending, id)
		}
	}
}

// pendingUpdate is the compacted history suppressed for one object.
// Commands are compared by identity, and a later set of a property replaces
// an earlier one.
type pendingUpdate struct {
	commands []command.Command
}

func (p *pendingUpdate) add(c command.Command) {
	if slices.Contains(p.commands, c) {
		return
	}
	if set, ok := c.(*command.SetProperty); ok {
		p.commands = slices.DeleteFunc(p.commands, func(x command.Command) bool {
			prev, ok := x.(*command.SetProperty)
			return ok && prev.Property() == set.Property()
		})
	}
	p.commands = append(p.commands, c)
}

func (p *pendingUpdate) command() command.Command {
	if len(p.commands) == 1 {
		return p.commands[0]
	}
	return command.NewMulti(p.commands...)
}

// Synchronizer projects committed commands for individual views against
// the canonical graph.
type Synchronizer struct {
	state    *state.Manager
	strategy visibility.Strategy
	logger   *slog.Logger
}

// NewSynchronizer builds a synchronizer over the canonical graph m.
func NewSynchronizer(m *state.Manager, strategy visibility.Strategy, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{state: m, strategy: strategy, logger: logger}
}

// Synchronize returns the projection of c for view, or nil when nothing
// may be delivered. A MultiCommand projects to a MultiCommand; a single
// command projects to a single command unless a catch-up had to precede it.
func (s *Synchronizer) Synchronize(view *View, c command.Command) (command.Command, error) {
	out := command.NewMulti()
	if err := s.project(view, c, out); err != nil {
		return nil, err
	}
	switch {
	case out.Len() == 0:
		return nil, nil
	case out.Len() == 1 && c.Synchronization() != command.Composite:
		return out.Children()[0], nil
	default:
		return out, nil
	}
}

type composite interface {
	Children() []command.Command
}

func (s *Synchronizer) project(view *View, c command.Command, out *command.MultiCommand) error {
	switch c.Synchronization() {
	case command.Composite:
		group, ok := c.(composite)
		if !ok {
			s.deliver(view, c, c, out)
			return nil
		}
		for _, child := range group.Children() {
			if err := s.project(view, child, out); err != nil {
				return err
			}
		}
		return nil
	case command.Structural:
		return s.passThrough(view, c, c, out)
	case command.Public:
		return s.passThrough(view, c, c.Synchronize(), out)
	default:
		return s.projectGated(view, c, out)
	}
}

// passThrough delivers a command every viewer may see. A target the
// replica does not hold yet is materialized first: visible objects by
// catch-up, hidden ones as a bare create carrying no properties.
func (s *Synchronizer) passThrough(view *View, c, projected command.Command, out *command.MultiCommand) error {
	id := c.Target()
	if _, isCreate := c.(*command.CreateObject); isCreate || id == 0 || view.ready(id) {
		s.deliver(view, c, projected, out)
		return nil
	}

	obj, ok := s.state.Get(id)
	if !ok {
		if view.Knows(id) {
			s.deliver(view, c, projected, out)
			return nil
		}
		delete(view.pending, id)
		s.logger.Debug("projection dropped", "viewer", string(view.viewer), "object_id", int64(id))
		return nil
	}

	visible, err := s.strategy.IsVisible(obj, view.viewer)
	if err != nil {
		return err
	}
	switch {
	case visible:
		if cu := s.catchUp(view, obj); cu != nil {
			s.deliver(view, cu, cu, out)
		}
	case !view.Knows(id):
		delete(view.pending, id)
		bare := command.NewCreateObject(id, obj.Kind(), nil)
		out.Push(bare)
		view.track(bare, true)
	default:
		// Pending history must not replay over this newer value.
		view.suppress(id, projected)
	}
	s.deliver(view, c, projected, out)
	return nil
}

func (s *Synchronizer) projectGated(view *View, c command.Command, out *command.MultiCommand) error {
	id := c.Target()
	obj, ok := s.state.Get(id)
	if !ok {
		// Gone from canonical state: only a replica holding it needs to hear.
		if view.Knows(id) {
			s.deliver(view, c, c.Synchronize(), out)
			return nil
		}
		delete(view.pending, id)
		s.logger.Debug("projection dropped", "viewer", string(view.viewer), "object_id", int64(id))
		return nil
	}

	visible, err := s.strategy.IsVisible(obj, view.viewer)
	if err != nil {
		return err
	}

	projected := c.Synchronize()
	if !visible {
		view.suppress(id, projected)
		s.logger.Debug("projection suppressed", "viewer", string(view.viewer), "object_id", int64(id))
		return nil
	}

	if _, isCreate := c.(*command.CreateObject); isCreate {
		if view.Knows(id) {
			s.logger.Debug("create elided", "viewer", string(view.viewer), "object_id", int64(id))
			return nil
		}
		delete(view.pending, id)
		s.deliver(view, c, projected, out)
		return nil
	}

	if !view.ready(id) {
		if cu := s.catchUp(view, obj); cu != nil {
			s.deliver(view, cu, cu, out)
		}
	}
	s.deliver(view, c, projected, out)
	return nil
}

func (s *Synchronizer) deliver(view *View, original, projected command.Command, out *command.MultiCommand) {
	if projected == nil {
		return
	}
	_, isCreate := original.(*command.CreateObject)
	out.Push(projected)
	view.track(projected, isCreate && projected != original)
}

// CatchUp synthesizes the command that brings view's replica up to date
// with id after it became visible. Returns nil when the replica is already
// current or the object no longer exists.
func (s *Synchronizer) CatchUp(view *View, id state.ID) command.Command {
	obj, ok := s.state.Get(id)
	if !ok {
		delete(view.pending, id)
		return nil
	}
	cu := s.catchUp(view, obj)
	if cu != nil {
		view.track(cu, false)
	}
	return cu
}

// catchUp prefers the suppressed history when the replica holds a full
// copy of the object; otherwise it snapshots the canonical object.
func (s *Synchronizer) catchUp(view *View, obj *state.Object) command.Command {
	id := obj.ID()
	_, hasPending := view.pending[id]
	full, known := view.known[id]

	switch {
	case known && full && hasPending:
		s.logger.Debug("catch-up from pending", "viewer", string(view.viewer), "object_id", int64(id))
		return view.TakePendingUpdate(id)
	case known && full:
		return nil
	default:
		delete(view.pending, id)
		s.logger.Debug("catch-up snapshot", "viewer", string(view.viewer), "object_id", int64(id))
		return command.SnapshotOf(obj)
	}
}
