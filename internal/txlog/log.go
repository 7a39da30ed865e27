package txlog

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/state"
)

// Type is a transaction's declared atomicity.
type Type int

const (
	// NonAtomic transactions forward each command as it is done.
	NonAtomic Type = iota
	// Atomic transactions forward only their net effect, on commit.
	Atomic
)

// String implements fmt.Stringer.
func (t Type) String() string {
	if t == Atomic {
		return "atomic"
	}
	return "non-atomic"
}

// ParseType is the inverse of String.
func ParseType(s string) (Type, error) {
	switch s {
	case "atomic":
		return Atomic, nil
	case "non-atomic", "nonatomic", "":
		return NonAtomic, nil
	default:
		return 0, fmt.Errorf("unknown transaction type %q", s)
	}
}

// Buffering decides which transactions are buffered until commit.
type Buffering int

const (
	// BufferPerTransaction buffers atomic transactions only.
	BufferPerTransaction Buffering = iota
	// BufferAlways buffers every transaction.
	BufferAlways
	// BufferNever forwards every command immediately, even inside atomic transactions.
	BufferNever
)

// ParseBuffering parses "per-transaction", "always" or "never".
func ParseBuffering(s string) (Buffering, error) {
	switch s {
	case "per-transaction", "":
		return BufferPerTransaction, nil
	case "always":
		return BufferAlways, nil
	case "never":
		return BufferNever, nil
	default:
		return 0, fmt.Errorf("unknown buffering %q", s)
	}
}

// String implements fmt.Stringer.
func (b Buffering) String() string {
	switch b {
	case BufferAlways:
		return "always"
	case BufferNever:
		return "never"
	default:
		return "per-transaction"
	}
}

// Transaction is one open span of the log.
type Transaction struct {
	Name  string
	Type  Type
	Depth int

	buffered bool
	offset   int
	done     []command.Command
}

// Buffered reports whether the transaction's commands are held until the
// outermost buffered transaction commits.
func (t *Transaction) Buffered() bool { return t.buffered }

// Offset returns the journal length at the time the transaction began.
// Journal entries from Offset on were dispatched inside it.
func (t *Transaction) Offset() int { return t.offset }

// Listener observes what the log dispatches.
//
// TransactionStarted and TransactionEnded are only called for transactions
// that are not buffered. CommandCommitted is called for every command made
// visible: individually inside non-buffered transactions, as one net
// MultiCommand when a buffered transaction commits.
type Listener interface {
	CommandCommitted(c command.Command) error
	TransactionStarted(tx *Transaction) error
	TransactionEnded(tx *Transaction, rollback bool) error
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithBuffering sets the buffering policy.
func WithBuffering(b Buffering) Option {
	return func(l *Log) { l.buffering = b }
}

// Log applies commands to the canonical graph and dispatches them to
// listeners, organized into nested transactions.
//
// Thread-safety: none. The log is driven by the single thread that owns the
// canonical graph.
type Log struct {
	state     *state.Manager
	buffering Buffering
	logger    *slog.Logger

	frames    []*Transaction
	journal   []command.Command
	undo      []command.Command
	redo      []command.Command
	listeners []subscription
	subSeq    int
}

type subscription struct {
	id       int
	listener Listener
}

// New creates a log over the canonical graph m.
func New(m *state.Manager, opts ...Option) *Log {
	l := &Log{
		state:  m,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the canonical graph.
func (l *Log) State() *state.Manager { return l.state }

// Subscribe adds a listener. The returned function removes it.
func (l *Log) Subscribe(listener Listener) (unsubscribe func()) {
	l.subSeq++
	id := l.subSeq
	l.listeners = append(l.listeners, subscription{id: id, listener: listener})
	return func() {
		l.listeners = slices.DeleteFunc(l.listeners, func(s subscription) bool { return s.id == id })
	}
}

// Depth returns the number of open transactions.
func (l *Log) Depth() int { return len(l.frames) }

// Journal returns every dispatched command, oldest first.
func (l *Log) Journal() []command.Command { return slices.Clone(l.journal) }

// Open returns the open transactions that listeners have seen begin,
// outermost first.
func (l *Log) Open() []*Transaction {
	var out []*Transaction
	for _, f := range l.frames {
		if !f.buffered {
			out = append(out, f)
		}
	}
	return out
}

// Buffered reports whether an open transaction is holding commands back
// from listeners. The canonical graph then carries uncommitted edits.
func (l *Log) Buffered() bool {
	return slices.ContainsFunc(l.frames, func(t *Transaction) bool { return t.buffered })
}

func (l *Log) top() *Transaction {
	if len(l.frames) == 0 {
		return nil
	}
	return l.frames[len(l.frames)-1]
}

// Begin opens a transaction.
func (l *Log) Begin(name string, typ Type) (*Transaction, error) {
	parent := l.top()
	tx := &Transaction{Name: name, Type: typ, Depth: len(l.frames) + 1, offset: len(l.journal)}

	switch {
	case parent != nil && parent.buffered:
		tx.buffered = true
	case l.buffering == BufferAlways:
		tx.buffered = true
	case l.buffering == BufferPerTransaction:
		tx.buffered = typ == Atomic
	}
	l.frames = append(l.frames, tx)

	l.logger.Debug("transaction begin",
		"tx", name,
		"tx_type", typ.String(),
		"depth", tx.Depth,
		"buffered", tx.buffered,
	)

	if tx.buffered {
		return tx, nil
	}
	return tx, l.notify(func(x Listener) error { return x.TransactionStarted(tx) })
}

// Do applies c to the canonical graph and records it in the current
// transaction. Outside any transaction the command is dispatched on its own.
//
// An error from applying c leaves the log unchanged. Listener errors are
// returned as a *DeliveryError after the command has taken effect.
func (l *Log) Do(c command.Command) error {
	if c == nil {
		return nil
	}
	if err := c.Apply(l.state); err != nil {
		return err
	}
	l.redo = nil

	tx := l.top()
	if tx == nil {
		l.undo = append(l.undo, c)
		return l.dispatch(c)
	}
	tx.done = append(tx.done, c)
	if tx.buffered {
		return nil
	}
	return l.dispatch(c)
}

// End closes the current transaction. A rollback that cannot be reverted
// returns an error and leaves the transaction open.
func (l *Log) End(rollback bool) error {
	tx := l.top()
	if tx == nil {
		return ErrNoTransaction
	}
	net := command.NewMulti(tx.done...)

	// A failed rollback leaves the transaction open so the caller can
	// close it with EndFrame.
	var inv command.Command
	if rollback {
		inv = net.Inverse()
		if inv == nil {
			return fmt.Errorf("rollback %q: transaction holds an irreversible command", tx.Name)
		}
		if err := inv.Apply(l.state); err != nil {
			return fmt.Errorf("rollback %q: %w", tx.Name, err)
		}
	}

	l.frames = l.frames[:len(l.frames)-1]
	parent := l.top()

	l.logger.Debug("transaction end",
		"tx", tx.Name,
		"tx_type", tx.Type.String(),
		"depth", tx.Depth,
		"rollback", rollback,
	)

	if rollback {
		if tx.buffered {
			return nil
		}
		// Replicas saw the original commands, so they must see the revert.
		var errs []error
		if !inv.IsEmpty() {
			errs = append(errs, l.dispatch(inv))
		}
		errs = append(errs, l.notify(func(x Listener) error { return x.TransactionEnded(tx, true) }))
		return errors.Join(errs...)
	}

	if parent != nil {
		parent.done = append(parent.done, tx.done...)
	} else if net.Len() > 0 {
		l.undo = append(l.undo, net)
	}

	if tx.buffered {
		if parent != nil && parent.buffered {
			return nil
		}
		if net.IsEmpty() {
			return nil
		}
		return l.dispatch(net)
	}
	return l.notify(func(x Listener) error { return x.TransactionEnded(tx, false) })
}

// EndFrame closes the current transaction without reverting anything. A log
// that mirrors another one uses it: the mirrored log has already dispatched
// the revert of a rolled-back transaction as ordinary commands.
func (l *Log) EndFrame(rollback bool) error {
	tx := l.top()
	if tx == nil {
		return ErrNoTransaction
	}
	l.frames = l.frames[:len(l.frames)-1]
	parent := l.top()

	l.logger.Debug("transaction frame closed",
		"tx", tx.Name,
		"depth", tx.Depth,
		"rollback", rollback,
	)

	if !rollback {
		if parent != nil {
			parent.done = append(parent.done, tx.done...)
		} else if len(tx.done) > 0 {
			l.undo = append(l.undo, command.NewMulti(tx.done...))
		}
	}
	if tx.buffered {
		return nil
	}
	return l.notify(func(x Listener) error { return x.TransactionEnded(tx, rollback) })
}

// Undo reverts the most recent completed top-level unit of work and
// dispatches the revert as an ordinary command.
func (l *Log) Undo() error {
	if len(l.frames) > 0 {
		return ErrTransactionOpen
	}
	if len(l.undo) == 0 {
		return ErrNothingToUndo
	}
	unit := l.undo[len(l.undo)-1]
	inv := unit.Inverse()
	if inv == nil {
		return fmt.Errorf("undo: irreversible command")
	}
	if err := inv.Apply(l.state); err != nil {
		return fmt.Errorf("undo: %w", err)
	}
	l.undo = l.undo[:len(l.undo)-1]
	l.redo = append(l.redo, unit)
	return l.dispatch(inv)
}

// Redo re-applies the most recently undone unit.
func (l *Log) Redo() error {
	if len(l.frames) > 0 {
		return ErrTransactionOpen
	}
	if len(l.redo) == 0 {
		return ErrNothingToRedo
	}
	unit := l.redo[len(l.redo)-1]
	if err := unit.Apply(l.state); err != nil {
		return fmt.Errorf("redo: %w", err)
	}
	l.redo = l.redo[:len(l.redo)-1]
	l.undo = append(l.undo, unit)
	return l.dispatch(unit)
}

// CanUndo reports whether Undo has work to do.
func (l *Log) CanUndo() bool { return len(l.undo) > 0 && len(l.frames) == 0 }

// CanRedo reports whether Redo has work to do.
func (l *Log) CanRedo() bool { return len(l.redo) > 0 && len(l.frames) == 0 }

func (l *Log) dispatch(c command.Command) error {
	l.journal = append(l.journal, c)
	l.logger.Debug("command committed", "seq", len(l.journal), "command", fmt.Sprintf("%T", c))
	return l.notify(func(x Listener) error { return x.CommandCommitted(c) })
}

func (l *Log) notify(fn func(Listener) error) error {
	var errs []error
	for _, s := range slices.Clone(l.listeners) {
		if err := fn(s.listener); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &DeliveryError{Err: errors.Join(errs...)}
}
