package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

func newCard(t *testing.T, m *state.Manager, props ir.Map) state.ID {
	t.Helper()
	c := Create(m, "card", props)
	require.NoError(t, c.Apply(m))
	return c.Target()
}

func digest(t *testing.T, m *state.Manager) string {
	t.Helper()
	d, err := m.Digest(nil)
	require.NoError(t, err)
	return d
}

func TestSetProperty_CapturesPrevious(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	id := newCard(t, m, ir.Map{"zone": ir.String("library")})

	c, err := Set(m, id, "zone", ir.String("hand"))
	require.NoError(t, err)
	assert.Equal(t, ir.String("library"), c.Previous())
	assert.Equal(t, VisibilityGated, c.Synchronization())
	assert.Equal(t, id, c.Target())
	assert.False(t, c.IsEmpty())

	_, err = Set(m, 99, "zone", ir.String("hand"))
	assert.True(t, state.HasCode(err, state.ErrCodeMissingObject))
}

func TestSetProperty_NoOpIsEmpty(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	id := newCard(t, m, ir.Map{"zone": ir.String("hand")})

	c, err := Set(m, id, "zone", ir.String("hand"))
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestInverseRestoresState(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	id := newCard(t, m, ir.Map{"zone": ir.String("library"), "name": ir.String("Bear")})
	before := digest(t, m)

	set, err := Set(m, id, "zone", ir.String("hand"))
	require.NoError(t, err)
	unname, err := Set(m, id, "name", nil)
	require.NoError(t, err)

	multi := NewMulti(set, unname)
	require.NoError(t, multi.Apply(m))
	assert.NotEqual(t, before, digest(t, m))

	inv := multi.Inverse()
	require.NotNil(t, inv)
	require.NoError(t, inv.Apply(m))
	assert.Equal(t, before, digest(t, m))
}

func TestCreateRemoveInverse(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	empty := digest(t, m)

	create := Create(m, "card", ir.Map{"name": ir.String("Elf"), "power": ir.Int(1)})
	require.NoError(t, create.Apply(m))
	withCard := digest(t, m)

	remove, err := Remove(m, create.Target())
	require.NoError(t, err)
	require.NoError(t, remove.Apply(m))
	assert.Equal(t, empty, digest(t, m))

	require.NoError(t, remove.Inverse().Apply(m))
	assert.Equal(t, withCard, digest(t, m), "remove inverse recreates the object exactly")

	require.NoError(t, create.Inverse().Apply(m))
	assert.Equal(t, empty, digest(t, m))
}

func TestMultiCommand_InverseIsReversed(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	create := Create(m, "card", nil)
	require.NoError(t, create.Apply(m))
	set := NewSetProperty(create.Target(), "zone", ir.String("hand"), nil)
	require.NoError(t, set.Apply(m))

	// Create then set; undo must clear the property before removing.
	multi := NewMulti(create, set)
	inv, ok := multi.Inverse().(*MultiCommand)
	require.True(t, ok)

	children := inv.Children()
	require.Len(t, children, 2)
	assert.IsType(t, &SetProperty{}, children[0])
	assert.IsType(t, &RemoveObject{}, children[1])
	require.NoError(t, inv.Apply(m))
	assert.Equal(t, 0, m.Len())
}

func TestMultiCommand_IsEmpty(t *testing.T) {
	assert.True(t, NewMulti().IsEmpty())
	assert.True(t, NewMulti(nil, nil).IsEmpty())
	assert.Equal(t, 0, NewMulti(nil).Len())

	noop := NewSetProperty(1, "zone", ir.String("hand"), ir.String("hand"))
	assert.True(t, NewMulti(noop, NewMulti()).IsEmpty())
	assert.False(t, NewMulti(noop, NewSetProperty(1, "zone", ir.String("exile"), ir.String("hand"))).IsEmpty())
}

func TestMultiCommand_InverseNilWhenIrreversible(t *testing.T) {
	multi := NewMulti(
		NewSetProperty(1, "zone", ir.String("hand"), nil),
		NewSnapshot(1, "card", nil),
	)
	assert.Nil(t, multi.Inverse())
}

func TestMultiCommand_ApplyReportsChildIndex(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	multi := NewMulti(
		NewCreateObject(1, "card", nil),
		NewSetProperty(2, "zone", ir.String("hand"), nil),
	)

	err := multi.Apply(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multi[1]")
	assert.True(t, state.HasCode(err, state.ErrCodeMissingObject))
}

func TestSnapshot_CreatesOrOverwrites(t *testing.T) {
	canonical := state.NewManager(state.ControlModeMaster)
	id := newCard(t, canonical, ir.Map{"zone": ir.String("battlefield"), "name": ir.String("Bear")})
	obj, _ := canonical.Get(id)
	snap := SnapshotOf(obj)

	empty := state.NewManager(state.ControlModeMaster)
	require.NoError(t, snap.Apply(empty))
	assert.Equal(t, digest(t, canonical), digest(t, empty))

	stale := state.NewManager(state.ControlModeMaster)
	require.NoError(t, stale.Insert(id, "card", ir.Map{"zone": ir.String("hand"), "tapped": ir.Bool(true)}))
	require.NoError(t, snap.Apply(stale))
	assert.Equal(t, digest(t, canonical), digest(t, stale))

	assert.Nil(t, snap.Inverse())
}

func TestCreateObject_ProjectionOverride(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	create := Create(m, "card",
		ir.Map{"zone": ir.String("library"), "owner": ir.String("alice"), "name": ir.String("Bear")},
		WithProjection(func(c *CreateObject) Command { return c.Stub("zone", "owner") }),
	)

	stub, ok := create.Synchronize().(*CreateObject)
	require.True(t, ok)
	assert.Equal(t, create.Target(), stub.Target())
	assert.Equal(t, ir.Map{"zone": ir.String("library"), "owner": ir.String("alice")}, stub.Properties())

	plain := Create(m, "card", nil)
	assert.Same(t, plain, plain.Synchronize())
}

func TestSyncOptions(t *testing.T) {
	assert.Equal(t, Public, NewSetProperty(1, "turn", ir.Int(2), ir.Int(1), AsPublic()).Synchronization())
	assert.Equal(t, Structural, NewSetProperty(1, "turn", ir.Int(2), ir.Int(1), AsStructural()).Synchronization())
	assert.Equal(t, Composite, NewMulti().Synchronization())
	assert.Equal(t, VisibilityGated, NewSnapshot(1, "card", nil).Synchronization())

	inv := NewSetProperty(1, "turn", ir.Int(2), ir.Int(1), AsPublic()).Inverse()
	assert.Equal(t, Public, inv.Synchronization(), "inverse keeps the synchronization kind")
}

func TestResolveObject(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	id := newCard(t, m, nil)

	obj, ok := ResolveObject(NewSetProperty(id, "zone", ir.String("hand"), nil), m)
	require.True(t, ok)
	assert.Equal(t, id, obj.ID())

	_, ok = ResolveObject(NewMulti(), m)
	assert.False(t, ok)
	_, ok = ResolveObject(NewSetProperty(99, "zone", ir.String("hand"), nil), m)
	assert.False(t, ok)
}

func TestFlatten(t *testing.T) {
	a := NewSetProperty(1, "a", ir.Int(1), nil)
	b := NewSetProperty(1, "b", ir.Int(1), nil)
	c := NewSetProperty(1, "c", ir.Int(1), nil)

	flat := Flatten(NewMulti(a, NewMulti(b, NewMulti()), c))
	assert.Equal(t, []Command{a, b, c}, flat)
	assert.Nil(t, Flatten(nil))
}
