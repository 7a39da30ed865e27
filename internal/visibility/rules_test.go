package visibility

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

func testPolicy() Policy {
	return Policy{
		Kinds: map[state.Kind]Scope{
			"game":    ScopeGlobal,
			"player":  ScopeGlobal,
			"card":    ScopeZoned,
			"ability": ScopeDerived,
		},
		Zones: map[string]ZoneAccess{
			"library":     ZoneHidden,
			"hand":        ZonePrivate,
			"battlefield": ZonePublic,
			"graveyard":   ZonePublic,
		},
		ZoneProperty:       "zone",
		OwnerProperty:      "owner",
		SourceProperty:     "source",
		ControllerProperty: "controller",
	}
}

type fixture struct {
	m      *state.Manager
	rules  *Rules
	events []Change
}

func newFixture(t *testing.T, viewers ...ViewerKey) *fixture {
	t.Helper()
	f := &fixture{m: state.NewManager(state.ControlModeMaster)}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r, err := NewRules(f.m, testPolicy(), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(r.Close)
	for _, v := range viewers {
		r.AddViewer(v)
	}
	r.Subscribe(func(c Change) { f.events = append(f.events, c) })
	f.rules = r
	return f
}

func (f *fixture) card(t *testing.T, id state.ID, zone, owner string) *state.Object {
	t.Helper()
	require.NoError(t, f.m.Insert(id, "card", ir.Map{
		"zone":  ir.String(zone),
		"owner": ir.String(owner),
		"name":  ir.String("Bear"),
	}))
	obj, _ := f.m.Get(id)
	return obj
}

func (f *fixture) visible(t *testing.T, id state.ID, viewer ViewerKey) bool {
	t.Helper()
	obj, ok := f.m.Get(id)
	require.True(t, ok)
	v, err := f.rules.IsVisible(obj, viewer)
	require.NoError(t, err)
	return v
}

func TestRules_ZoneAccess(t *testing.T) {
	f := newFixture(t)
	f.card(t, 1, "library", "alice")
	f.card(t, 2, "hand", "alice")
	f.card(t, 3, "battlefield", "alice")

	assert.False(t, f.visible(t, 1, "alice"), "library is hidden even from its owner")
	assert.True(t, f.visible(t, 2, "alice"))
	assert.False(t, f.visible(t, 2, "bob"))
	assert.True(t, f.visible(t, 3, "bob"))
}

func TestRules_GlobalKinds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Insert(1, "game", ir.Map{"turn": ir.Int(1)}))
	require.NoError(t, f.m.Insert(2, "player", ir.Map{"name": ir.String("alice")}))

	assert.True(t, f.visible(t, 1, "bob"))
	assert.True(t, f.visible(t, 2, "bob"))
}

func TestRules_UnknownKindAndZoneAreHidden(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Insert(1, "emblem", nil))
	f.card(t, 2, "sideboard", "alice")

	assert.False(t, f.visible(t, 1, "alice"))
	assert.False(t, f.visible(t, 2, "alice"))
}

func TestRules_AbilityInheritsSource(t *testing.T) {
	f := newFixture(t)
	f.card(t, 1, "hand", "alice")
	require.NoError(t, f.m.Insert(2, "ability", ir.Map{"source": ir.Int(1)}))
	require.NoError(t, f.m.Insert(3, "ability", ir.Map{"source": ir.Int(2)}))
	require.NoError(t, f.m.Insert(4, "ability", ir.Map{"source": ir.Int(99)}))

	assert.True(t, f.visible(t, 2, "alice"))
	assert.False(t, f.visible(t, 2, "bob"))
	assert.True(t, f.visible(t, 3, "alice"), "chains resolve through abilities")
	assert.False(t, f.visible(t, 4, "alice"), "missing source is hidden")
}

func TestRules_SourceCycleIsHidden(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Insert(1, "ability", ir.Map{"source": ir.Int(2)}))
	require.NoError(t, f.m.Insert(2, "ability", ir.Map{"source": ir.Int(1)}))

	assert.False(t, f.visible(t, 1, "alice"))
}

func TestRules_NilObject(t *testing.T) {
	f := newFixture(t)
	_, err := f.rules.IsVisible(nil, "alice")
	assert.ErrorIs(t, err, ErrNilObject)

	_, err = Open{}.IsVisible(nil, "alice")
	assert.ErrorIs(t, err, ErrNilObject)
}

func TestRules_ZoneChangeFiresFlips(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.card(t, 1, "library", "alice")

	_, err := f.m.Set(1, "zone", ir.String("hand"))
	require.NoError(t, err)
	assert.Equal(t, []Change{{Object: 1, Viewer: "alice", Visible: true}}, f.events)

	f.events = nil
	_, err = f.m.Set(1, "zone", ir.String("battlefield"))
	require.NoError(t, err)
	assert.Equal(t, []Change{{Object: 1, Viewer: "bob", Visible: true}}, f.events)

	f.events = nil
	_, err = f.m.Set(1, "zone", ir.String("library"))
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Object: 1, Viewer: "alice", Visible: false},
		{Object: 1, Viewer: "bob", Visible: false},
	}, f.events)
}

func TestRules_UnwatchedPropertyDoesNotFire(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.card(t, 1, "hand", "alice")

	_, err := f.m.Set(1, "tapped", ir.Bool(true))
	require.NoError(t, err)
	assert.Empty(t, f.events)
}

func TestRules_OwnerChangeInPrivateZone(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.card(t, 1, "hand", "alice")

	_, err := f.m.Set(1, "owner", ir.String("bob"))
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Object: 1, Viewer: "alice", Visible: false},
		{Object: 1, Viewer: "bob", Visible: true},
	}, f.events)
}

func TestRules_SourceMoveFlipsAbilities(t *testing.T) {
	f := newFixture(t, "bob")
	f.card(t, 1, "hand", "alice")
	require.NoError(t, f.m.Insert(2, "ability", ir.Map{"source": ir.Int(1)}))

	_, err := f.m.Set(1, "zone", ir.String("battlefield"))
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Object: 1, Viewer: "bob", Visible: true},
		{Object: 2, Viewer: "bob", Visible: true},
	}, f.events)
}

func TestRules_CreationAndRemovalDoNotFire(t *testing.T) {
	f := newFixture(t, "alice")
	f.card(t, 1, "battlefield", "alice")
	_, err := f.m.Remove(1)
	require.NoError(t, err)

	assert.Empty(t, f.events)
}

func TestRules_UntrackedViewersDoNotFire(t *testing.T) {
	f := newFixture(t, "alice")
	f.rules.RemoveViewer("alice")
	f.card(t, 1, "library", "alice")

	_, err := f.m.Set(1, "zone", ir.String("battlefield"))
	require.NoError(t, err)
	assert.Empty(t, f.events)
	assert.Empty(t, f.rules.Viewers())
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, testPolicy().Validate())

	p := testPolicy()
	p.ZoneProperty = ""
	p.SourceProperty = ""
	p.Zones["exile"] = "sometimes"
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone property is required")
	assert.Contains(t, err.Error(), "no source property")
	assert.Contains(t, err.Error(), `zone "exile"`)

	_, err = NewRules(state.NewManager(state.ControlModeMaster), p)
	assert.Error(t, err)
}

func TestPolicy_Watched(t *testing.T) {
	assert.Equal(t, []string{"owner", "source", "zone"}, testPolicy().Watched())
}
