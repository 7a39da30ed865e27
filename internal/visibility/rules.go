package visibility

import (
	"log/slog"
	"slices"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// maxSourceDepth bounds the source chain of derived objects.
const maxSourceDepth = 8

// RulesOption configures Rules.
type RulesOption func(*Rules)

// WithLogger sets the logger used for ambiguous-intent warnings.
func WithLogger(logger *slog.Logger) RulesOption {
	return func(r *Rules) { r.logger = logger }
}

// Rules is the rule-based strategy for a card game:
//
//	global   always visible
//	zoned    public zone: everyone; private zone: owner only; hidden: nobody
//	derived  visible iff its source object is visible
//
// Unknown kinds and zones are hidden and logged.
//
// Rules watches the canonical graph for changes to the policy's watched
// properties and fires a Change for every tracked viewer whose result flips.
// Creations and removals never fire.
type Rules struct {
	state   *state.Manager
	policy  Policy
	logger  *slog.Logger
	viewers viewerSet
	changes broadcaster[Change]
	watched []string
	unwatch func()
}

// NewRules builds the strategy over the canonical graph m.
func NewRules(m *state.Manager, policy Policy, opts ...RulesOption) (*Rules, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	r := &Rules{
		state:   m,
		policy:  policy,
		logger:  slog.Default(),
		watched: policy.Watched(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.unwatch = m.Subscribe(r.onStateChange)
	return r, nil
}

// Close stops watching the graph.
func (r *Rules) Close() {
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
}

// Policy returns the policy in force.
func (r *Rules) Policy() Policy { return r.policy }

// AddViewer implements ViewerTracker.
func (r *Rules) AddViewer(viewer ViewerKey) { r.viewers.add(viewer) }

// RemoveViewer implements ViewerTracker.
func (r *Rules) RemoveViewer(viewer ViewerKey) { r.viewers.remove(viewer) }

// Viewers returns the tracked viewers in the order they were added.
func (r *Rules) Viewers() []ViewerKey { return slices.Clone(r.viewers.keys) }

// Subscribe implements Strategy.
func (r *Rules) Subscribe(fn func(Change)) func() { return r.changes.subscribe(fn) }

// IsVisible implements Strategy.
func (r *Rules) IsVisible(obj *state.Object, viewer ViewerKey) (bool, error) {
	if obj == nil {
		return false, ErrNilObject
	}
	return r.visible(obj, viewer, nil, 0), nil
}

// visible evaluates obj for viewer. When a source lookup hits override's
// ID, override is used instead of the graph's object.
func (r *Rules) visible(obj *state.Object, viewer ViewerKey, override *state.Object, depth int) bool {
	scope, ok := r.policy.Kinds[obj.Kind()]
	if !ok {
		r.logger.Warn("unknown object kind treated as hidden",
			"object_id", int64(obj.ID()),
			"kind", string(obj.Kind()),
		)
		return false
	}

	switch scope {
	case ScopeGlobal:
		return true
	case ScopeZoned:
		zone := obj.String(r.policy.ZoneProperty)
		access, ok := r.policy.Zones[zone]
		if !ok {
			r.logger.Warn("unknown zone treated as hidden",
				"object_id", int64(obj.ID()),
				"zone", zone,
			)
			return false
		}
		switch access {
		case ZonePublic:
			return true
		case ZonePrivate:
			owner := obj.String(r.policy.OwnerProperty)
			return owner != "" && ViewerKey(owner) == viewer
		default:
			return false
		}
	case ScopeDerived:
		if depth >= maxSourceDepth {
			r.logger.Warn("source chain too deep, treated as hidden", "object_id", int64(obj.ID()))
			return false
		}
		src := r.lookup(state.ID(obj.Int(r.policy.SourceProperty)), override)
		if src == nil {
			return false
		}
		return r.visible(src, viewer, override, depth+1)
	default:
		return false
	}
}

func (r *Rules) lookup(id state.ID, override *state.Object) *state.Object {
	if id == 0 {
		return nil
	}
	if override != nil && override.ID() == id {
		return override
	}
	obj, ok := r.state.Get(id)
	if !ok {
		return nil
	}
	return obj
}

// derivesFrom reports whether obj's source chain reaches id.
func (r *Rules) derivesFrom(obj *state.Object, id state.ID) bool {
	cur := obj
	for depth := 0; depth < maxSourceDepth; depth++ {
		if r.policy.Kinds[cur.Kind()] != ScopeDerived {
			return false
		}
		src := state.ID(cur.Int(r.policy.SourceProperty))
		if src == id {
			return true
		}
		next, ok := r.state.Get(src)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

func (r *Rules) onStateChange(c state.Change) {
	if c.Op != state.ChangeSet || !slices.Contains(r.watched, c.Property) || len(r.viewers.keys) == 0 {
		return
	}
	obj, ok := r.state.Get(c.Object)
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

	r.compare(obj, before, before)
	for _, d := range r.state.Objects() {
		if d.ID() != obj.ID() && r.derivesFrom(d, obj.ID()) {
			r.compare(d, d, before)
		}
	}
}

// compare emits a Change for each viewer whose result differs between
// prior (evaluated with override in place) and the current graph.
func (r *Rules) compare(current, prior, override *state.Object) {
	for _, viewer := range slices.Clone(r.viewers.keys) {
		was := r.visible(prior, viewer, override, 0)
		now := r.visible(current, viewer, nil, 0)
		if was == now {
			continue
		}
		r.logger.Debug("visibility changed",
			"object_id", int64(current.ID()),
			"viewer", string(viewer),
			"visible", now,
		)
		r.changes.emit(Change{Object: current.ID(), Viewer: viewer, Visible: now})
	}
}
