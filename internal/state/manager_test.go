package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/ir"
)

func TestManager_AllocateIsMonotonic(t *testing.T) {
	m := NewManager(ControlModeMaster)

	assert.Equal(t, ID(1), m.Allocate())
	assert.Equal(t, ID(2), m.Allocate())
	assert.Equal(t, ID(2), m.Peek())
}

func TestManager_InsertAdvancesCounter(t *testing.T) {
	m := NewManager(ControlModeMaster)

	require.NoError(t, m.Insert(7, "card", ir.Map{"name": ir.String("Bear")}))
	assert.Equal(t, ID(8), m.Allocate(), "counter must move past explicit ids")
}

func TestManager_InsertDuplicate(t *testing.T) {
	m := NewManager(ControlModeMaster)
	require.NoError(t, m.Insert(1, "card", nil))

	err := m.Insert(1, "card", nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeDuplicateObject))
}

func TestManager_InsertRejectsNull(t *testing.T) {
	m := NewManager(ControlModeMaster)

	err := m.Insert(1, "card", ir.Map{"name": ir.Null{}})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidValue))
	assert.False(t, m.Has(1))
}

func TestManager_SetReturnsPrevious(t *testing.T) {
	m := NewManager(ControlModeMaster)
	require.NoError(t, m.Insert(1, "card", ir.Map{"zone": ir.String("library")}))

	old, err := m.Set(1, "zone", ir.String("hand"))
	require.NoError(t, err)
	assert.Equal(t, ir.String("library"), old)

	obj, _ := m.Get(1)
	assert.Equal(t, "hand", obj.String("zone"))
}

func TestManager_SetNilRemovesProperty(t *testing.T) {
	m := NewManager(ControlModeMaster)
	require.NoError(t, m.Insert(1, "card", ir.Map{"tapped": ir.Bool(true)}))

	old, err := m.Set(1, "tapped", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), old)

	obj, _ := m.Get(1)
	_, ok := obj.Get("tapped")
	assert.False(t, ok)
}

func TestManager_SetMissingObject(t *testing.T) {
	m := NewManager(ControlModeMaster)

	_, err := m.Set(42, "zone", ir.String("hand"))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingObject))

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ID(42), pe.Object)
}

func TestManager_RemoveReturnsObject(t *testing.T) {
	m := NewManager(ControlModeMaster)
	require.NoError(t, m.Insert(1, "card", ir.Map{"name": ir.String("Bear")}))

	obj, err := m.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, "Bear", obj.String("name"))
	assert.False(t, m.Has(1))

	_, err = m.Remove(1)
	assert.True(t, HasCode(err, ErrCodeMissingObject))
}

func TestManager_ObjectsInIDOrder(t *testing.T) {
	m := NewManager(ControlModeMaster)
	for _, id := range []ID{5, 2, 9, 1} {
		require.NoError(t, m.Insert(id, "card", nil))
	}

	var ids []ID
	for _, o := range m.Objects() {
		ids = append(ids, o.ID())
	}
	assert.Equal(t, []ID{1, 2, 5, 9}, ids)
}

func TestManager_SynchronizedRejectsDirectMutation(t *testing.T) {
	m := NewManager(ControlModeSynchronized)

	err := m.Insert(1, "card", nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeReplicaMutation))

	err = m.Replicate(func() error {
		return m.Insert(1, "card", nil)
	})
	require.NoError(t, err)

	_, err = m.Set(1, "zone", ir.String("hand"))
	assert.True(t, HasCode(err, ErrCodeReplicaMutation))

	_, err = m.Remove(1)
	assert.True(t, HasCode(err, ErrCodeReplicaMutation))
	assert.True(t, m.Has(1))
}

func TestManager_ReplicateNests(t *testing.T) {
	m := NewManager(ControlModeSynchronized)

	err := m.Replicate(func() error {
		return m.Replicate(func() error {
			return m.Insert(1, "card", nil)
		})
	})
	require.NoError(t, err)

	_, err = m.Set(1, "zone", ir.String("hand"))
	assert.True(t, HasCode(err, ErrCodeReplicaMutation), "rights end with the outermost call")
}

func TestManager_SubscribeReceivesChanges(t *testing.T) {
	m := NewManager(ControlModeMaster)
	var changes []Change
	unsubscribe := m.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, m.Insert(1, "card", ir.Map{"zone": ir.String("library")}))
	_, err := m.Set(1, "zone", ir.String("hand"))
	require.NoError(t, err)
	_, err = m.Set(1, "zone", ir.String("hand"))
	require.NoError(t, err)
	_, err = m.Remove(1)
	require.NoError(t, err)

	require.Len(t, changes, 3, "setting an equal value emits nothing")
	assert.Equal(t, ChangeCreated, changes[0].Op)
	assert.Equal(t, Change{
		Op:       ChangeSet,
		Object:   1,
		Kind:     "card",
		Property: "zone",
		Old:      ir.String("library"),
		New:      ir.String("hand"),
	}, changes[1])
	assert.Equal(t, ChangeRemoved, changes[2].Op)

	unsubscribe()
	require.NoError(t, m.Insert(2, "card", nil))
	assert.Len(t, changes, 3)
}

func TestManager_ReplaceEmitsPerProperty(t *testing.T) {
	m := NewManager(ControlModeMaster)
	require.NoError(t, m.Insert(1, "card", ir.Map{
		"zone":   ir.String("library"),
		"tapped": ir.Bool(true),
		"name":   ir.String("Bear"),
	}))

	var props []string
	m.Subscribe(func(c Change) { props = append(props, c.Property) })

	require.NoError(t, m.Replace(1, "card", ir.Map{
		"zone":  ir.String("hand"),
		"name":  ir.String("Bear"),
		"power": ir.Int(2),
	}))

	assert.Equal(t, []string{"power", "tapped", "zone"}, props)
	obj, _ := m.Get(1)
	assert.Equal(t, ir.Map{
		"zone":  ir.String("hand"),
		"name":  ir.String("Bear"),
		"power": ir.Int(2),
	}, obj.Properties())
}

func TestManager_ReplaceInsertsWhenAbsent(t *testing.T) {
	m := NewManager(ControlModeMaster)

	require.NoError(t, m.Replace(3, "card", ir.Map{"name": ir.String("Elf")}))
	obj, ok := m.Get(3)
	require.True(t, ok)
	assert.Equal(t, Kind("card"), obj.Kind())
}

func TestManager_DigestMatchesAcrossGraphs(t *testing.T) {
	a := NewManager(ControlModeMaster)
	b := NewManager(ControlModeSynchronized)

	require.NoError(t, a.Insert(1, "card", ir.Map{"zone": ir.String("hand")}))
	require.NoError(t, a.Insert(2, "player", ir.Map{"life": ir.Int(20)}))
	require.NoError(t, b.Replicate(func() error {
		if err := b.Insert(2, "player", ir.Map{"life": ir.Int(20)}); err != nil {
			return err
		}
		return b.Insert(1, "card", ir.Map{"zone": ir.String("hand")})
	}))

	da, err := a.Digest(nil)
	require.NoError(t, err)
	db, err := b.Digest(nil)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	onlyPlayers := func(o *Object) bool { return o.Kind() == "player" }
	dp, err := a.Digest(onlyPlayers)
	require.NoError(t, err)
	assert.NotEqual(t, da, dp)
}

func TestManager_MutationDoesNotAliasInput(t *testing.T) {
	m := NewManager(ControlModeMaster)
	props := ir.Map{"counters": ir.List{ir.Int(1)}}
	require.NoError(t, m.Insert(1, "card", props))

	props["counters"] = ir.List{ir.Int(9)}
	obj, _ := m.Get(1)
	v, _ := obj.Get("counters")
	assert.Equal(t, ir.List{ir.Int(1)}, v)
}
