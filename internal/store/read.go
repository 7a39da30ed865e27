package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tablesync/internal/txlog"
)

// ReadCommits returns every commit of a match.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the match has no commits.
func (s *Store) ReadCommits(ctx context.Context, matchID string) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_id, seq, command, command_hash
		FROM commits
		WHERE match_id = ?
		ORDER BY seq ASC, id ASC
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []Commit{}
	for rows.Next() {
		var (
			c    Commit
			data string
		)
		if err := rows.Scan(&c.MatchID, &c.Seq, &data, &c.Hash); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if c.Command, err = unmarshalCommand(data); err != nil {
			return nil, fmt.Errorf("commit seq %d: %w", c.Seq, err)
		}
		commits = append(commits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}

	return commits, nil
}

// ReadDeliveries returns what one viewer was delivered in a match, in
// delivery order.
//
// Returns an empty slice (not nil) if nothing was delivered.
func (s *Store) ReadDeliveries(ctx context.Context, matchID, viewer string) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_id, seq, viewer, kind, command, tx_type, rollback
		FROM deliveries
		WHERE match_id = ? AND viewer = ?
		ORDER BY seq ASC, id ASC
	`, matchID, viewer)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}

func scanDelivery(rows *sql.Rows) (Delivery, error) {
	var (
		d        Delivery
		data     sql.NullString
		txType   sql.NullString
		rollback int
	)
	if err := rows.Scan(&d.MatchID, &d.Seq, &d.Viewer, &d.Kind, &data, &txType, &rollback); err != nil {
		return Delivery{}, fmt.Errorf("scan delivery: %w", err)
	}
	d.Rollback = rollback != 0

	if data.Valid {
		c, err := unmarshalCommand(data.String)
		if err != nil {
			return Delivery{}, fmt.Errorf("delivery seq %d: %w", d.Seq, err)
		}
		d.Command = c
	}
	if txType.Valid {
		typ, err := txlog.ParseType(txType.String)
		if err != nil {
			return Delivery{}, fmt.Errorf("delivery seq %d: %w", d.Seq, err)
		}
		d.TxType = typ
	}
	return d, nil
}

// ListViewers returns the viewers with deliveries in a match, sorted.
func (s *Store) ListViewers(ctx context.Context, matchID string) ([]string, error) {
	return s.listStrings(ctx, "viewers", `
		SELECT DISTINCT viewer FROM deliveries
		WHERE match_id = ?
		ORDER BY viewer COLLATE BINARY ASC
	`, matchID)
}

// ListMatches returns every match with at least one commit, sorted.
func (s *Store) ListMatches(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, "matches", `
		SELECT DISTINCT match_id FROM commits
		ORDER BY match_id COLLATE BINARY ASC
	`)
}

func (s *Store) listStrings(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}
