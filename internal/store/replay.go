package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/tablesync/internal/replication"
	"github.com/roach88/tablesync/internal/state"
)

// ErrReplayDiverged is returned when two rebuilds of the same match produce
// different graphs.
var ErrReplayDiverged = errors.New("replay diverged")

// MatchState summarizes a stored match.
type MatchState struct {
	MatchID string
	Commits int
	LastSeq int64
	Objects int
	Digest  string
}

// Rebuild applies a match's commits, in order, to a fresh master graph.
func (s *Store) Rebuild(ctx context.Context, matchID string) (*state.Manager, error) {
	commits, err := s.ReadCommits(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	m := state.NewManager(state.ControlModeMaster)
	for _, c := range commits {
		if err := c.Command.Apply(m); err != nil {
			return nil, fmt.Errorf("rebuild: commit seq %d: %w", c.Seq, err)
		}
	}
	return m, nil
}

// RebuildViewer replays a viewer's deliveries into a fresh replica, in the
// transaction boundaries they were sent.
func (s *Store) RebuildViewer(ctx context.Context, matchID, viewer string) (*replication.Replica, error) {
	deliveries, err := s.ReadDeliveries(ctx, matchID, viewer)
	if err != nil {
		return nil, fmt.Errorf("rebuild viewer: %w", err)
	}
	r := replication.NewReplica(replication.WithReplicaLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for _, d := range deliveries {
		switch d.Kind {
		case DeliverySync:
			err = r.Synchronize(d.Command)
		case DeliveryBegin:
			err = r.BeginTransaction(d.TxType)
		case DeliveryEnd:
			err = r.EndCurrentTransaction(d.Rollback)
		}
		if err != nil {
			return nil, fmt.Errorf("rebuild viewer %s: delivery seq %d: %w", viewer, d.Seq, err)
		}
	}
	return r, nil
}

// GetMatchState rebuilds a match and summarizes it.
func (s *Store) GetMatchState(ctx context.Context, matchID string) (MatchState, error) {
	ms := MatchState{MatchID: matchID}

	commits, err := s.ReadCommits(ctx, matchID)
	if err != nil {
		return ms, fmt.Errorf("get match state: %w", err)
	}
	ms.Commits = len(commits)
	for _, c := range commits {
		if c.Seq > ms.LastSeq {
			ms.LastSeq = c.Seq
		}
	}

	m, err := s.Rebuild(ctx, matchID)
	if err != nil {
		return ms, fmt.Errorf("get match state: %w", err)
	}
	ms.Objects = m.Len()
	if ms.Digest, err = m.Digest(nil); err != nil {
		return ms, fmt.Errorf("get match state: %w", err)
	}
	return ms, nil
}

// VerifyReplay rebuilds a match twice and compares the digests. It returns
// the digest on success and ErrReplayDiverged otherwise.
func (s *Store) VerifyReplay(ctx context.Context, matchID string) (string, error) {
	first, err := s.Rebuild(ctx, matchID)
	if err != nil {
		return "", err
	}
	second, err := s.Rebuild(ctx, matchID)
	if err != nil {
		return "", err
	}
	a, err := first.Digest(nil)
	if err != nil {
		return "", err
	}
	b, err := second.Digest(nil)
	if err != nil {
		return "", err
	}
	if a != b {
		return "", fmt.Errorf("%w: %s != %s", ErrReplayDiverged, a, b)
	}
	return a, nil
}

// GetLastSeq returns the highest seq across commits and deliveries.
// Returns 0 for an empty store. A Sequencer restarted at this value keeps
// new rows after existing ones.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var commitSeq, deliverySeq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commits`).Scan(&commitSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM deliveries`).Scan(&deliverySeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return max(commitSeq, deliverySeq), nil
}
