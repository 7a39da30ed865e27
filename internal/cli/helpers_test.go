package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/harness"
	"github.com/roach88/tablesync/internal/store"
)

const hiddenHandScenario = `
name: hidden_hand
description: bob never receives alice's hand card
players: [alice, bob]
viewers: [alice, bob]
steps:
  - {op: create, ref: bear, owner: alice, zone: hand, props: {name: Grizzly Bears}}
  - {op: create, ref: wall, owner: alice, zone: battlefield}
assertions:
  - {type: sees, viewer: alice, ref: bear}
  - {type: not_sees, viewer: bob, ref: bear}
  - {type: sees, viewer: bob, ref: wall}
  - {type: converged}
`

const peekScenario = `
name: peek
description: bob expects to see alice's hand, which he cannot
players: [alice, bob]
viewers: [bob]
steps:
  - {op: create, ref: bear, owner: alice, zone: hand}
assertions:
  - {type: sees, viewer: bob, ref: bear}
`

const atomicCastScenario = `
name: atomic_cast
description: bob receives the cast's boundaries only when nothing is buffered
players: [alice]
viewers: [bob]
steps:
  - {op: begin, name: cast, type: atomic}
  - {op: create, ref: bear, owner: alice, zone: battlefield}
  - {op: end}
assertions:
  - {type: delivery_count, viewer: bob, kind: begin, count: 1}
`

const openHandsRuleset = `package rules

ruleset: {
	name: "open-hands"

	kinds: {
		game:   "global"
		player: "global"
		card:   "zoned"
	}

	zones: {
		library:     "hidden"
		hand:        "public"
		battlefield: "public"
	}
}
`

// cleanEnv clears every TABLESYNC_ variable so the host environment
// cannot leak into flag defaults.
func cleanEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TABLESYNC_DB", "")
	t.Setenv("TABLESYNC_BUFFERING", "")
	t.Setenv("TABLESYNC_RULESET", "")
	t.Setenv("TABLESYNC_LOG_LEVEL", "error")
}

// execute runs the root command with a clean environment.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cleanEnv(t)
	return executeRoot(t, args...)
}

// executeRoot runs the root command with the current environment.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// tracedDatabase runs the hidden hand scenario into a fresh database under
// the given match id and returns the database path.
func tracedDatabase(t *testing.T, matchID string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	s, err := harness.ParseScenario([]byte(hiddenHandScenario))
	require.NoError(t, err)
	result, err := harness.Run(context.Background(), s,
		harness.WithStore(st),
		harness.WithMatchIDGenerator(engine.NewFixedGenerator(matchID)),
	)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)
	return dbPath
}
