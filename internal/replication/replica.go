package replication

import (
	"fmt"
	"log/slog"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/txlog"
)

// ReplicaOption configures a Replica.
type ReplicaOption func(*replicaConfig)

type replicaConfig struct {
	logger *slog.Logger
}

// WithReplicaLogger sets the replica's logger.
func WithReplicaLogger(logger *slog.Logger) ReplicaOption {
	return func(c *replicaConfig) { c.logger = logger }
}

// Replica is a Client that keeps a private copy of the graph.
//
// It applies whatever it receives, in order, inside the transaction
// boundaries it is sent. It never consults a visibility strategy. Its graph
// is synchronized: any mutation not made through Synchronize is rejected.
//
// Received commands run through the replica's own txlog.Log, so local
// observers (a view model, say) can Subscribe to it like they would to a
// master log.
type Replica struct {
	state  *state.Manager
	log    *txlog.Log
	logger *slog.Logger

	applied int
}

// NewReplica creates an empty replica.
func NewReplica(opts ...ReplicaOption) *Replica {
	cfg := replicaConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := state.NewManager(state.ControlModeSynchronized)
	return &Replica{
		state:  m,
		log:    txlog.New(m, txlog.WithBuffering(txlog.BufferNever), txlog.WithLogger(cfg.logger)),
		logger: cfg.logger,
	}
}

// State returns the replica's graph.
func (r *Replica) State() *state.Manager { return r.state }

// Subscribe observes the commands and boundaries the replica applies.
func (r *Replica) Subscribe(listener txlog.Listener) func() { return r.log.Subscribe(listener) }

// Depth returns the number of open transactions.
func (r *Replica) Depth() int { return r.log.Depth() }

// Applied returns how many commands have been applied.
func (r *Replica) Applied() int { return r.applied }

// Synchronize implements Client. A command referencing an object the
// replica does not hold is a protocol violation.
func (r *Replica) Synchronize(c command.Command) error {
	err := r.state.Replicate(func() error {
		return r.log.Do(c)
	})
	if err != nil && !txlog.IsDeliveryError(err) {
		return fmt.Errorf("replica apply: %w", err)
	}
	r.applied++
	return err
}

// BeginTransaction implements Client.
func (r *Replica) BeginTransaction(typ txlog.Type) error {
	_, err := r.log.Begin("replicated", typ)
	return err
}

// EndCurrentTransaction implements Client. The source already sent the
// inverse of a rolled-back transaction, so the replica only closes the
// frame; local observers still see the rollback flag.
func (r *Replica) EndCurrentTransaction(rollback bool) error {
	if r.log.Depth() == 0 {
		return &Error{Code: ErrCodeTransactionMismatch, Message: "end without begin"}
	}
	return r.state.Replicate(func() error {
		return r.log.EndFrame(rollback)
	})
}
