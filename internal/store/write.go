package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/txlog"
)

// Delivery kinds, matching the CHECK constraint on deliveries.kind.
const (
	DeliverySync  = "sync"
	DeliveryBegin = "begin"
	DeliveryEnd   = "end"
)

// Commit is one command the canonical log dispatched.
type Commit struct {
	Seq     int64
	MatchID string
	Command command.Command
	Hash    string
}

// Delivery is one call a viewer's client received. Command is set for sync
// deliveries, TxType for begin and Rollback for end.
type Delivery struct {
	Seq      int64
	MatchID  string
	Viewer   string
	Kind     string
	Command  command.Command
	TxType   txlog.Type
	Rollback bool
}

// WriteCommit inserts a canonical commit.
// Uses ON CONFLICT(match_id, seq) DO NOTHING for idempotency - rewriting the
// same seq is silently ignored.
//
// The command is serialized to canonical JSON so replay decodes exactly
// what was dispatched.
func (s *Store) WriteCommit(ctx context.Context, c Commit) error {
	data, hash, err := marshalCommand(c.Command)
	if err != nil {
		return fmt.Errorf("write commit: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commits (match_id, seq, command, command_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(match_id, seq) DO NOTHING
	`,
		c.MatchID,
		c.Seq,
		data,
		hash,
	)
	if err != nil {
		return fmt.Errorf("write commit: %w", err)
	}

	return nil
}

// WriteDelivery inserts one delivery row.
func (s *Store) WriteDelivery(ctx context.Context, d Delivery) error {
	var (
		data   sql.NullString
		txType sql.NullString
	)

	switch d.Kind {
	case DeliverySync:
		if d.Command == nil {
			return fmt.Errorf("write delivery: sync without command")
		}
		raw, _, err := marshalCommand(d.Command)
		if err != nil {
			return fmt.Errorf("write delivery: %w", err)
		}
		data = sql.NullString{String: raw, Valid: true}
	case DeliveryBegin:
		txType = sql.NullString{String: d.TxType.String(), Valid: true}
	case DeliveryEnd:
	default:
		return fmt.Errorf("write delivery: unknown kind %q", d.Kind)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (match_id, seq, viewer, kind, command, tx_type, rollback)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		d.MatchID,
		d.Seq,
		d.Viewer,
		d.Kind,
		data,
		txType,
		boolToInt(d.Rollback),
	)
	if err != nil {
		return fmt.Errorf("write delivery: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
