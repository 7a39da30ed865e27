package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCommit creates a commit of a card creation.
func createTestCommit(matchID string, seq int64, id state.ID, zone string) Commit {
	return Commit{
		Seq:     seq,
		MatchID: matchID,
		Command: command.NewCreateObject(id, "card", ir.Map{"zone": ir.String(zone)}),
	}
}

// createTestSet creates a commit of a zone change.
func createTestSet(matchID string, seq int64, id state.ID, zone, prev string) Commit {
	return Commit{
		Seq:     seq,
		MatchID: matchID,
		Command: command.NewSetProperty(id, "zone", ir.String(zone), ir.String(prev)),
	}
}
