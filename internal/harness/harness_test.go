package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/txlog"
	"github.com/roach88/tablesync/internal/visibility"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_TestdataScenariosPass(t *testing.T) {
	for _, name := range []string{
		"hidden_hand",
		"private_draw",
		"rollback",
		"late_registration",
		"face_down",
		"bounce_reveals",
		"undo",
	} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), loadTestdata(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
			assert.Equal(t, "test-match-default", result.MatchID)
			assert.NotEmpty(t, result.Digest)
		})
	}
}

func TestRun_TraceIsSeqOrdered(t *testing.T) {
	result, err := Run(context.Background(), loadTestdata(t, "late_registration"))
	require.NoError(t, err)
	require.NotEmpty(t, result.Trace)
	for i := 1; i < len(result.Trace); i++ {
		assert.Less(t, result.Trace[i-1].Seq, result.Trace[i].Seq)
	}

	carol := result.ViewerTrace("carol")
	require.NotEmpty(t, carol)
	assert.Equal(t, "end rollback=false", carol[len(carol)-3], "the open combat closes before the turn passes")
}

func TestRun_FailingAssertion(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: bob cannot see alice's hand
players: [alice, bob]
viewers: [bob]
steps:
  - {op: create, ref: bear, owner: alice, zone: hand}
assertions:
  - {type: sees, viewer: bob, ref: bear}
  - {type: delivery_count, viewer: bob, count: 99}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: sees (viewer bob)")
	assert.Contains(t, result.Errors[0], "held=false")
	assert.Contains(t, result.Errors[1], "99 deliveries (all)")
}

func TestRun_StepFailure(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: empty_library
description: drawing from an empty library fails
players: [alice]
steps:
  - {op: draw, ref: card, owner: alice}
assertions:
  - {type: converged}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s)
	assert.ErrorContains(t, err, "step 0 (draw)")
}

func TestRun_WithBufferingOverridesScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: atomic_cast
description: an atomic cast is buffered unless buffering is disabled
players: [alice]
viewers: [bob]
steps:
  - {op: begin, name: cast, type: atomic}
  - {op: create, ref: bear, owner: alice, zone: battlefield}
  - {op: end}
assertions:
  - {type: sees, viewer: bob, ref: bear}
  - {type: converged}
`))
	require.NoError(t, err)
	ctx := context.Background()

	buffered, err := Run(ctx, s)
	require.NoError(t, err)
	assert.True(t, buffered.Pass, strings.Join(buffered.Errors, "\n"))
	assert.NotContains(t, buffered.ViewerTrace("bob"), "begin atomic")

	forwarded, err := Run(ctx, s, WithBuffering(txlog.BufferNever))
	require.NoError(t, err)
	assert.True(t, forwarded.Pass, strings.Join(forwarded.Errors, "\n"))
	assert.Contains(t, forwarded.ViewerTrace("bob"), "begin atomic")
}

func TestRun_WithAccessStrategy(t *testing.T) {
	rulesAccess := func(r *visibility.Rules) visibility.AccessStrategy {
		return visibility.NewRulesAccess(r)
	}
	for _, name := range []string{
		"hidden_hand",
		"private_draw",
		"rollback",
		"late_registration",
		"face_down",
		"bounce_reveals",
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			direct, err := Run(ctx, loadTestdata(t, name))
			require.NoError(t, err)
			viaAccess, err := Run(ctx, loadTestdata(t, name), WithAccessStrategy(rulesAccess))
			require.NoError(t, err)

			assert.True(t, viaAccess.Pass, strings.Join(viaAccess.Errors, "\n"))
			assert.Equal(t, direct.Digest, viaAccess.Digest)
			assert.Equal(t, direct.ViewerTrace("bob"), viaAccess.ViewerTrace("bob"))
		})
	}
}

func TestRun_WithSharedStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	ids := engine.NewFixedGenerator("match-a", "match-b")
	first, err := Run(ctx, loadTestdata(t, "rollback"), WithStore(st), WithMatchIDGenerator(ids))
	require.NoError(t, err)
	second, err := Run(ctx, loadTestdata(t, "rollback"), WithStore(st), WithMatchIDGenerator(ids))
	require.NoError(t, err)

	assert.True(t, first.Pass)
	assert.True(t, second.Pass)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, first.ViewerTrace("bob"), second.ViewerTrace("bob"))
	assert.Greater(t, second.Trace[0].Seq, first.Trace[len(first.Trace)-1].Seq, "the clock resumes past stored rows")

	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"match-a", "match-b"}, matches)

	rebuilt, err := st.VerifyReplay(ctx, "match-b")
	require.NoError(t, err)
	assert.Equal(t, second.Digest, rebuilt)
}

func TestGolden_Deterministic(t *testing.T) {
	dir := t.TempDir()
	g := goldie.New(t, goldie.WithFixtureDir(dir), goldie.WithNameSuffix(".golden"))

	for _, name := range []string{"hidden_hand", "bounce_reveals"} {
		s := loadTestdata(t, name)
		first, err := Run(context.Background(), s)
		require.NoError(t, err)
		data, err := MarshalGolden(s.Name, first)
		require.NoError(t, err)
		require.NoError(t, g.Update(t, s.Name, data))

		second, err := Run(context.Background(), s)
		require.NoError(t, err)
		require.NoError(t, AssertGolden(t, s.Name, second, goldie.WithFixtureDir(dir)))
	}
}

func TestMarshalGolden_GroupsByViewer(t *testing.T) {
	result := NewResult()
	result.MatchID = "m"
	result.Digest = "d"
	result.Trace = []TraceEvent{
		{Seq: 1, Viewer: "bob", Kind: "begin", Line: "begin atomic"},
		{Seq: 2, Viewer: "alice", Kind: "end", Line: "end rollback=false"},
		{Seq: 3, Viewer: "bob", Kind: "end", Line: "end rollback=true"},
	}

	data, err := MarshalGolden("x", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"deliveries":{"alice":["end rollback=false"],"bob":["begin atomic","end rollback=true"]},"digest":"d","match_id":"m","scenario_name":"x"}`,
		string(data))
}
