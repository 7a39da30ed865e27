package txlog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

type recorder struct {
	events []string
	cmds   []command.Command
	fail   error
}

func (r *recorder) CommandCommitted(c command.Command) error {
	r.cmds = append(r.cmds, c)
	if multi, ok := c.(*command.MultiCommand); ok {
		r.events = append(r.events, fmt.Sprintf("commit multi(%d)", multi.Len()))
	} else {
		r.events = append(r.events, "commit")
	}
	return r.fail
}

func (r *recorder) TransactionStarted(tx *Transaction) error {
	r.events = append(r.events, "begin "+tx.Name)
	return r.fail
}

func (r *recorder) TransactionEnded(tx *Transaction, rollback bool) error {
	r.events = append(r.events, fmt.Sprintf("end %s rollback=%t", tx.Name, rollback))
	return r.fail
}

func setup(t *testing.T, opts ...Option) (*Log, *recorder, state.ID) {
	t.Helper()
	m := state.NewManager(state.ControlModeMaster)
	l := New(m, opts...)
	create := command.Create(m, "card", ir.Map{"power": ir.Int(1)})
	require.NoError(t, l.Do(create))

	rec := &recorder{}
	l.Subscribe(rec)
	return l, rec, create.Target()
}

func set(t *testing.T, l *Log, id state.ID, name string, v ir.Value) {
	t.Helper()
	c, err := command.Set(l.State(), id, name, v)
	require.NoError(t, err)
	require.NoError(t, l.Do(c))
}

func power(t *testing.T, l *Log, id state.ID) int64 {
	t.Helper()
	obj, ok := l.State().Get(id)
	require.True(t, ok)
	return obj.Int("power")
}

func TestLog_NonAtomicForwardsEachCommand(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("pump", NonAtomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(2))
	set(t, l, id, "power", ir.Int(3))
	set(t, l, id, "power", ir.Int(4))
	require.NoError(t, l.End(false))

	assert.Equal(t, []string{
		"begin pump",
		"commit",
		"commit",
		"commit",
		"end pump rollback=false",
	}, rec.events)
	assert.Equal(t, 0, l.Depth())
}

func TestLog_AtomicForwardsNetEffectOnCommit(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("pump", Atomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(2))
	set(t, l, id, "power", ir.Int(3))
	set(t, l, id, "power", ir.Int(4))
	assert.Empty(t, rec.events, "nothing is visible before commit")
	assert.Equal(t, int64(4), power(t, l, id), "master is mutated immediately")

	require.NoError(t, l.End(false))
	assert.Equal(t, []string{"commit multi(3)"}, rec.events)
}

func TestLog_NestedInsideAtomicIsBuffered(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("outer", Atomic)
	require.NoError(t, err)
	inner, err := l.Begin("inner", NonAtomic)
	require.NoError(t, err)
	assert.True(t, inner.Buffered())
	set(t, l, id, "power", ir.Int(2))
	require.NoError(t, l.End(false))
	set(t, l, id, "power", ir.Int(3))
	require.NoError(t, l.End(false))

	assert.Equal(t, []string{"commit multi(2)"}, rec.events)
}

func TestLog_AtomicRollbackDispatchesNothing(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("attack", Atomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(5))
	require.NoError(t, l.End(true))

	assert.Empty(t, rec.events)
	assert.Equal(t, int64(1), power(t, l, id))
}

func TestLog_NonAtomicRollbackCommitsInverse(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("attack", NonAtomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(5))
	set(t, l, id, "tapped", ir.Bool(true))
	require.NoError(t, l.End(true))

	assert.Equal(t, []string{
		"begin attack",
		"commit",
		"commit",
		"commit multi(2)",
		"end attack rollback=true",
	}, rec.events)
	assert.Equal(t, int64(1), power(t, l, id))

	// Replaying the journal yields the reverted state.
	replica := state.NewManager(state.ControlModeMaster)
	for _, c := range l.Journal() {
		require.NoError(t, c.Apply(replica))
	}
	want, _ := l.State().Digest(nil)
	got, _ := replica.Digest(nil)
	assert.Equal(t, want, got)
}

func TestLog_NestedRollbackKeepsOuter(t *testing.T) {
	l, _, id := setup(t)

	_, err := l.Begin("outer", Atomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(2))
	_, err = l.Begin("inner", Atomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(9))
	require.NoError(t, l.End(true))
	assert.Equal(t, int64(2), power(t, l, id))
	require.NoError(t, l.End(false))

	assert.Equal(t, int64(2), power(t, l, id))
}

func TestLog_BufferingPolicies(t *testing.T) {
	t.Run("always", func(t *testing.T) {
		l, rec, id := setup(t, WithBuffering(BufferAlways))
		_, err := l.Begin("tx", NonAtomic)
		require.NoError(t, err)
		set(t, l, id, "power", ir.Int(2))
		require.NoError(t, l.End(false))
		assert.Equal(t, []string{"commit multi(1)"}, rec.events)
	})

	t.Run("never", func(t *testing.T) {
		l, rec, id := setup(t, WithBuffering(BufferNever))
		_, err := l.Begin("tx", Atomic)
		require.NoError(t, err)
		set(t, l, id, "power", ir.Int(2))
		require.NoError(t, l.End(false))
		assert.Equal(t, []string{"begin tx", "commit", "end tx rollback=false"}, rec.events)
	})
}

func TestLog_EndWithoutBegin(t *testing.T) {
	l, _, _ := setup(t)
	assert.ErrorIs(t, l.End(false), ErrNoTransaction)
}

func TestLog_DoFailureLeavesLogUnchanged(t *testing.T) {
	l, rec, _ := setup(t)
	before := len(l.Journal())

	err := l.Do(command.NewSetProperty(99, "power", ir.Int(1), nil))
	require.Error(t, err)
	assert.True(t, state.HasCode(err, state.ErrCodeMissingObject))
	assert.Len(t, l.Journal(), before)
	assert.Empty(t, rec.events)
}

func TestLog_EndFrameDoesNotRevert(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("mirror", NonAtomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(5))
	require.NoError(t, l.EndFrame(true))

	assert.Equal(t, int64(5), power(t, l, id))
	assert.Equal(t, []string{"begin mirror", "commit", "end mirror rollback=true"}, rec.events)
	assert.ErrorIs(t, l.EndFrame(false), ErrNoTransaction)
}

func TestLog_FailedRollbackKeepsFrameOpen(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("reveal", NonAtomic)
	require.NoError(t, err)
	require.NoError(t, l.Do(command.NewSnapshot(id, "card", ir.Map{"power": ir.Int(4)})))

	err = l.End(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "irreversible")
	assert.Equal(t, 1, l.Depth(), "the transaction stays open")
	assert.Equal(t, []string{"begin reveal", "commit"}, rec.events)

	require.NoError(t, l.EndFrame(true))
	assert.Equal(t, 0, l.Depth())
	assert.Equal(t, []string{"begin reveal", "commit", "end reveal rollback=true"}, rec.events)
}

func TestLog_TransactionOffset(t *testing.T) {
	l, _, id := setup(t)
	set(t, l, id, "power", ir.Int(2))

	tx, err := l.Begin("turn", NonAtomic)
	require.NoError(t, err)
	assert.Equal(t, 2, tx.Offset())
	set(t, l, id, "power", ir.Int(3))

	inner, err := l.Begin("combat", NonAtomic)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.Offset())
}

func TestLog_UndoRedo(t *testing.T) {
	l, rec, id := setup(t)

	_, err := l.Begin("pump", NonAtomic)
	require.NoError(t, err)
	set(t, l, id, "power", ir.Int(2))
	set(t, l, id, "power", ir.Int(3))
	require.NoError(t, l.End(false))
	rec.events = nil

	require.NoError(t, l.Undo())
	assert.Equal(t, int64(1), power(t, l, id))
	require.NoError(t, l.Redo())
	assert.Equal(t, int64(3), power(t, l, id))
	assert.Equal(t, []string{"commit multi(2)", "commit multi(2)"}, rec.events)

	require.NoError(t, l.Undo())
	require.NoError(t, l.Undo(), "the initial create is undoable too")
	assert.Equal(t, 0, l.State().Len())
	assert.ErrorIs(t, l.Undo(), ErrNothingToUndo)

	require.NoError(t, l.Redo())
	set(t, l, id, "power", ir.Int(7))
	assert.ErrorIs(t, l.Redo(), ErrNothingToRedo, "a new command clears redo")
}

func TestLog_UndoInsideTransaction(t *testing.T) {
	l, _, _ := setup(t)
	_, err := l.Begin("tx", NonAtomic)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Undo(), ErrTransactionOpen)
	assert.False(t, l.CanUndo())
}

func TestLog_OpenListsForwardedFrames(t *testing.T) {
	l, _, _ := setup(t)

	_, err := l.Begin("turn", NonAtomic)
	require.NoError(t, err)
	_, err = l.Begin("combat", Atomic)
	require.NoError(t, err)

	open := l.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "turn", open[0].Name)
	assert.Equal(t, 2, l.Depth())
}

func TestLog_DeliveryErrorAfterEffect(t *testing.T) {
	l, rec, id := setup(t)
	rec.fail = errors.New("client broke")

	c, err := command.Set(l.State(), id, "power", ir.Int(2))
	require.NoError(t, err)
	err = l.Do(c)

	require.Error(t, err)
	assert.True(t, IsDeliveryError(err))
	assert.ErrorIs(t, err, rec.fail)
	assert.Equal(t, int64(2), power(t, l, id), "the command has taken effect")
}

func TestLog_Unsubscribe(t *testing.T) {
	m := state.NewManager(state.ControlModeMaster)
	l := New(m)
	rec := &recorder{}
	unsubscribe := l.Subscribe(rec)
	unsubscribe()

	require.NoError(t, l.Do(command.Create(m, "card", nil)))
	assert.Empty(t, rec.events)
}

func TestParse(t *testing.T) {
	typ, err := ParseType("atomic")
	require.NoError(t, err)
	assert.Equal(t, Atomic, typ)
	_, err = ParseType("sometimes")
	assert.Error(t, err)

	b, err := ParseBuffering("never")
	require.NoError(t, err)
	assert.Equal(t, BufferNever, b)
	assert.Equal(t, "never", b.String())
	_, err = ParseBuffering("maybe")
	assert.Error(t, err)
}
