package store

import (
	"context"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/replication"
	"github.com/roach88/tablesync/internal/txlog"
	"github.com/roach88/tablesync/internal/visibility"
)

// CommitWriter is a txlog.Listener that writes every dispatched command as
// a commit. Transaction boundaries are not commits: the log dispatches a
// rollback's revert as ordinary commands.
type CommitWriter struct {
	ctx     context.Context
	store   *Store
	matchID string
	seq     Sequencer
}

// NewCommitWriter returns a CommitWriter for one match.
func NewCommitWriter(ctx context.Context, s *Store, matchID string, seq Sequencer) *CommitWriter {
	return &CommitWriter{ctx: ctx, store: s, matchID: matchID, seq: seq}
}

// CommandCommitted implements txlog.Listener.
func (w *CommitWriter) CommandCommitted(c command.Command) error {
	return w.store.WriteCommit(w.ctx, Commit{
		Seq:     w.seq.Next(),
		MatchID: w.matchID,
		Command: c,
	})
}

// TransactionStarted implements txlog.Listener.
func (w *CommitWriter) TransactionStarted(*txlog.Transaction) error { return nil }

// TransactionEnded implements txlog.Listener.
func (w *CommitWriter) TransactionEnded(*txlog.Transaction, bool) error { return nil }

// Recorder is a replication.Client that writes each call as a delivery of
// its viewer, then forwards it to the wrapped client. A failed write is
// returned without forwarding.
type Recorder struct {
	ctx     context.Context
	store   *Store
	matchID string
	viewer  visibility.ViewerKey
	seq     Sequencer
	next    replication.Client
}

// NewRecorder wraps next so its deliveries are traced.
func NewRecorder(ctx context.Context, s *Store, matchID string, viewer visibility.ViewerKey, seq Sequencer, next replication.Client) *Recorder {
	return &Recorder{ctx: ctx, store: s, matchID: matchID, viewer: viewer, seq: seq, next: next}
}

func (r *Recorder) write(d Delivery) error {
	d.Seq = r.seq.Next()
	d.MatchID = r.matchID
	d.Viewer = string(r.viewer)
	return r.store.WriteDelivery(r.ctx, d)
}

// Synchronize implements replication.Client.
func (r *Recorder) Synchronize(c command.Command) error {
	if err := r.write(Delivery{Kind: DeliverySync, Command: c}); err != nil {
		return err
	}
	return r.next.Synchronize(c)
}

// BeginTransaction implements replication.Client.
func (r *Recorder) BeginTransaction(typ txlog.Type) error {
	if err := r.write(Delivery{Kind: DeliveryBegin, TxType: typ}); err != nil {
		return err
	}
	return r.next.BeginTransaction(typ)
}

// EndCurrentTransaction implements replication.Client.
func (r *Recorder) EndCurrentTransaction(rollback bool) error {
	if err := r.write(Delivery{Kind: DeliveryEnd, Rollback: rollback}); err != nil {
		return err
	}
	return r.next.EndCurrentTransaction(rollback)
}
