package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/tablesync/internal/cardgame"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/txlog"
)

// Action is one unit of rule-engine work. It runs inside a transaction of
// its Type; an error rolls the transaction back.
type Action struct {
	Name string
	Type txlog.Type
	Run  func(*cardgame.Table) error
}

// Stats counts what the engine has run.
type Stats struct {
	Run    int64
	Failed int64
}

// Engine is the single-writer table engine.
//
// All mutations of the canonical graph happen on one goroutine: either the
// Run loop or a Submit caller when no loop is running. Every replication
// callback therefore runs in-line on that goroutine too.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Submit(): only while Run is not running
type Engine struct {
	table   *cardgame.Table
	clock   store.Sequencer
	queue   *actionQueue
	matchID string
	logger  *slog.Logger
	idGen   MatchIDGenerator

	running atomic.Bool
	run     atomic.Int64
	failed  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the sequencer used to stamp trace rows. Use NewClockAt to
// resume after rows already held by a store.
func WithClock(c store.Sequencer) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMatchIDGenerator sets the generator for the engine's match id.
// Default: UUIDv7Generator.
func WithMatchIDGenerator(g MatchIDGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// New creates an engine driving log.
func New(log *txlog.Log, opts ...Option) *Engine {
	e := &Engine{
		table:  cardgame.NewTable(log),
		clock:  NewClock(),
		queue:  newActionQueue(),
		logger: slog.Default(),
		idGen:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matchID = e.idGen.Generate()
	return e
}

// Table returns the table the engine drives.
func (e *Engine) Table() *cardgame.Table { return e.table }

// Clock returns the engine's sequencer.
func (e *Engine) Clock() store.Sequencer { return e.clock }

// MatchID returns the id traced rows are written under.
func (e *Engine) MatchID() string { return e.matchID }

// QueueLen returns the number of queued actions.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Stats returns how many actions ran and how many failed.
func (e *Engine) Stats() Stats {
	return Stats{Run: e.run.Load(), Failed: e.failed.Load()}
}

// Trace writes every commit of the engine's log to s under the match id.
// The returned function stops tracing.
func (e *Engine) Trace(ctx context.Context, s *store.Store) func() {
	return e.table.Log().Subscribe(store.NewCommitWriter(ctx, s, e.matchID, e.clock))
}

// Enqueue submits an action to the Run loop.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Enqueue(a Action) error {
	if !e.queue.Enqueue(a) {
		return &RuntimeError{Code: ErrCodeQueueClosed, Message: "engine stopped", Action: a.Name, MatchID: e.matchID}
	}
	return nil
}

// Submit runs an action synchronously. It fails if Run is active.
func (e *Engine) Submit(a Action) error {
	if !e.running.CompareAndSwap(false, true) {
		return &RuntimeError{Code: ErrCodeLoopRunning, Message: "submit while run loop active", Action: a.Name, MatchID: e.matchID}
	}
	defer e.running.Store(false)
	return e.execute(a)
}

// Run executes queued actions one at a time until ctx is cancelled or Stop
// is called and the queue drains.
//
// A failing action is logged and rolled back; the loop continues with the
// next action.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return &RuntimeError{Code: ErrCodeLoopRunning, Message: "run loop already active", MatchID: e.matchID}
	}
	defer e.running.Store(false)

	e.logger.Info("engine starting", "match_id", e.matchID)

	for {
		a, ok := e.queue.TryDequeue()
		if ok {
			if err := e.execute(a); err != nil {
				e.logger.Error("action failed",
					"match_id", e.matchID,
					"action", a.Name,
					"tx_type", a.Type.String(),
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled", "match_id", e.matchID)
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Stop; an empty queue then
			// means there is nothing left to drain.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed", "match_id", e.matchID)
				return nil
			}
		}
	}
}

// Stop closes the queue. Run drains what is queued, then returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// execute runs one action inside its own transaction. Transactions the
// action left open are rolled back along with it.
func (e *Engine) execute(a Action) error {
	if a.Run == nil {
		return &RuntimeError{Code: ErrCodeInvalidAction, Message: "action has no body", Action: a.Name, MatchID: e.matchID}
	}
	log := e.table.Log()
	base := log.Depth()

	if _, err := log.Begin(a.Name, a.Type); err != nil {
		return fmt.Errorf("begin %s: %w", a.Name, err)
	}
	e.run.Add(1)
	e.logger.Info("action begin", "match_id", e.matchID, "action", a.Name, "tx_type", a.Type.String())

	runErr := a.Run(e.table)
	rollback := runErr != nil

	var endErrs []error
	for log.Depth() > base+1 {
		endErrs = append(endErrs, end(log, true))
	}
	endErrs = append(endErrs, end(log, rollback))
	endErr := errors.Join(endErrs...)

	if rollback {
		e.failed.Add(1)
		e.logger.Info("action rolled back", "match_id", e.matchID, "action", a.Name)
		return &RuntimeError{
			Code:    ErrCodeActionFailed,
			Message: "action rolled back",
			Action:  a.Name,
			MatchID: e.matchID,
			Err:     errors.Join(runErr, endErr),
		}
	}
	e.logger.Info("action end", "match_id", e.matchID, "action", a.Name)
	return endErr
}

// end closes the current transaction. A rollback that cannot be reverted
// leaves the frame open, so it is closed without the revert.
func end(log *txlog.Log, rollback bool) error {
	depth := log.Depth()
	err := log.End(rollback)
	if err != nil && log.Depth() == depth {
		err = errors.Join(err, log.EndFrame(rollback))
	}
	return err
}
