package replication

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/ruleset"
	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/txlog"
	"github.com/roach88/tablesync/internal/visibility"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// table is a canonical graph with a log, the tabletop rules and a source.
type table struct {
	m     *state.Manager
	log   *txlog.Log
	rules *visibility.Rules
	src   *Source
}

func newTable(t *testing.T, opts ...txlog.Option) *table {
	t.Helper()
	m := state.NewManager(state.ControlModeMaster)
	logger := quietLogger()
	l := txlog.New(m, append([]txlog.Option{txlog.WithLogger(logger)}, opts...)...)
	rules, err := visibility.NewRules(m, ruleset.MustDefault().Policy, visibility.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(rules.Close)
	src := NewSource(l, rules, WithLogger(logger))
	t.Cleanup(src.Close)
	return &table{m: m, log: l, rules: rules, src: src}
}

func (tb *table) do(t *testing.T, c command.Command) {
	t.Helper()
	require.NoError(t, tb.log.Do(c))
}

func (tb *table) card(t *testing.T, zone, owner string, props ir.Map) state.ID {
	t.Helper()
	all := ir.Map{"zone": ir.String(zone), "owner": ir.String(owner)}
	for k, v := range props {
		all[k] = v
	}
	c := command.Create(tb.m, "card", all)
	tb.do(t, c)
	return c.Target()
}

func (tb *table) set(t *testing.T, id state.ID, name string, v ir.Value, opts ...command.Option) {
	t.Helper()
	c, err := command.Set(tb.m, id, name, v, opts...)
	require.NoError(t, err)
	tb.do(t, c)
}

func (tb *table) move(t *testing.T, id state.ID, zone string) {
	t.Helper()
	tb.set(t, id, "zone", ir.String(zone))
}

func (tb *table) begin(t *testing.T, typ txlog.Type) {
	t.Helper()
	_, err := tb.log.Begin(typ.String(), typ)
	require.NoError(t, err)
}

func (tb *table) end(t *testing.T, rollback bool) {
	t.Helper()
	require.NoError(t, tb.log.End(rollback))
}

func (tb *table) replica(t *testing.T, viewer visibility.ViewerKey) *Replica {
	t.Helper()
	r := NewReplica(WithReplicaLogger(quietLogger()))
	require.NoError(t, tb.src.Register(viewer, r))
	return r
}

func (tb *table) visible(t *testing.T, id state.ID, viewer visibility.ViewerKey) bool {
	t.Helper()
	obj, ok := tb.m.Get(id)
	require.True(t, ok)
	v, err := tb.rules.IsVisible(obj, viewer)
	require.NoError(t, err)
	return v
}

// assertConverged checks every object visible to viewer is held by the
// replica with identical kind and properties.
func assertConverged(t *testing.T, tb *table, viewer visibility.ViewerKey, r *Replica) {
	t.Helper()
	for _, obj := range tb.m.Objects() {
		ok, err := tb.rules.IsVisible(obj, viewer)
		require.NoError(t, err)
		if !ok {
			continue
		}
		got, held := r.State().Get(obj.ID())
		if !assert.True(t, held, "%s missing %s", viewer, obj.ID()) {
			continue
		}
		assert.Equal(t, obj.Kind(), got.Kind(), "%s kind of %s", viewer, obj.ID())
		assert.True(t, ir.Equal(obj.Properties(), got.Properties()),
			"%s sees %s as %v, canonical %v", viewer, obj.ID(), got.Properties(), obj.Properties())
	}
}

// recorder is a Client that logs what it receives and optionally forwards
// to another client.
type recorder struct {
	next   Client
	events []string
	cmds   []command.Command
	fail   error
}

func (r *recorder) Synchronize(c command.Command) error {
	r.cmds = append(r.cmds, c)
	r.events = append(r.events, describe(c))
	if r.fail != nil {
		return r.fail
	}
	if r.next != nil {
		return r.next.Synchronize(c)
	}
	return nil
}

func (r *recorder) BeginTransaction(typ txlog.Type) error {
	r.events = append(r.events, "begin "+typ.String())
	if r.next != nil {
		return r.next.BeginTransaction(typ)
	}
	return nil
}

func (r *recorder) EndCurrentTransaction(rollback bool) error {
	r.events = append(r.events, fmt.Sprintf("end rollback=%t", rollback))
	if r.next != nil {
		return r.next.EndCurrentTransaction(rollback)
	}
	return nil
}

func (r *recorder) reset() {
	r.events = nil
	r.cmds = nil
}

// describe renders a command as "op target[.property]" for event logs.
func describe(c command.Command) string {
	switch c := c.(type) {
	case *command.MultiCommand:
		var buf bytes.Buffer
		buf.WriteString("multi[")
		for i, child := range c.Children() {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(describe(child))
		}
		buf.WriteString("]")
		return buf.String()
	case *command.SetProperty:
		return fmt.Sprintf("set %s.%s", c.Target(), c.Property())
	case *command.CreateObject:
		return fmt.Sprintf("create %s", c.Target())
	case *command.RemoveObject:
		return fmt.Sprintf("remove %s", c.Target())
	case *command.Snapshot:
		return fmt.Sprintf("snapshot %s", c.Target())
	default:
		return fmt.Sprintf("%T", c)
	}
}
