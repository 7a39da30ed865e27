package replication

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/txlog"
	"github.com/roach88/tablesync/internal/visibility"
)

// Client is the sink a Source pushes projections into: a local replica, or
// a stub that forwards to a remote one.
type Client interface {
	Synchronize(c command.Command) error
	BeginTransaction(typ txlog.Type) error
	EndCurrentTransaction(rollback bool) error
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) { s.logger = logger }
}

type registration struct {
	viewer visibility.ViewerKey
	client Client
	view   *View
}

type visibilityRecord struct {
	object  state.ID
	viewer  visibility.ViewerKey
	visible bool
}

// Source owns the canonical side of replication. It listens to the
// transaction log, projects every dispatched command for every registered
// client, and pushes catch-ups when objects become visible.
//
// All handlers run synchronously on the thread driving the log.
type Source struct {
	log      *txlog.Log
	state    *state.Manager
	strategy visibility.Strategy
	sync     *Synchronizer
	logger   *slog.Logger

	clients []*registration
	records []visibilityRecord

	unsubscribe []func()
}

// NewSource attaches a source to log, filtering with strategy.
func NewSource(log *txlog.Log, strategy visibility.Strategy, opts ...SourceOption) *Source {
	s := &Source{
		log:      log,
		state:    log.State(),
		strategy: strategy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sync = NewSynchronizer(s.state, strategy, s.logger)
	s.unsubscribe = append(s.unsubscribe,
		log.Subscribe(logListener{s}),
		strategy.Subscribe(s.onVisibilityChanged),
	)
	return s
}

// Close detaches the source from the log and the strategy.
func (s *Source) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

// Register attaches client as viewer and brings its replica up to date by
// replaying the log's journal, oldest first, through the synchronizer. Each
// transaction currently in progress is opened on the client at the point of
// the journal where it began.
//
// Registering the same client twice fails with DUPLICATE_REGISTRATION and
// changes nothing. Registering while a buffered transaction is open fails
// with BUFFERED_TRANSACTION and changes nothing.
func (s *Source) Register(viewer visibility.ViewerKey, client Client) error {
	if s.find(client) >= 0 {
		return &Error{Code: ErrCodeDuplicateRegistration, Message: "client already registered", Viewer: viewer}
	}
	if s.log.Buffered() {
		return bufferedTransaction("register", viewer)
	}

	// Deliver outstanding catch-ups to existing clients first so the new
	// view starts from a clean point.
	flushErr := s.flush()

	if tracker, ok := s.strategy.(visibility.ViewerTracker); ok {
		tracker.AddViewer(viewer)
	}

	reg := &registration{viewer: viewer, client: client, view: NewView(viewer)}
	journal := s.log.Journal()
	open := s.log.Open()
	next := 0
	begin := func(upTo int) error {
		for ; next < len(open) && open[next].Offset() <= upTo; next++ {
			if err := client.BeginTransaction(open[next].Type); err != nil {
				return clientFailed(viewer, "begin", err)
			}
		}
		return nil
	}

	for i, c := range journal {
		if err := begin(i); err != nil {
			s.untrack(viewer)
			return errors.Join(flushErr, err)
		}
		proj, err := s.sync.Synchronize(reg.view, c)
		if err != nil {
			s.untrack(viewer)
			return errors.Join(flushErr, err)
		}
		if proj == nil || proj.IsEmpty() {
			continue
		}
		if err := client.Synchronize(proj); err != nil {
			s.untrack(viewer)
			return errors.Join(flushErr, clientFailed(viewer, "replay", err))
		}
	}
	if err := begin(len(journal)); err != nil {
		s.untrack(viewer)
		return errors.Join(flushErr, err)
	}

	s.clients = append(s.clients, reg)
	s.logger.Info("client registered",
		"viewer", string(viewer),
		"replayed", len(journal),
		"open_transactions", len(open),
	)
	return flushErr
}

// Unregister detaches client. Safe between any two dispatches.
func (s *Source) Unregister(client Client) error {
	i := s.find(client)
	if i < 0 {
		return &Error{Code: ErrCodeUnknownClient, Message: "client not registered"}
	}
	reg := s.clients[i]
	s.clients = slices.Delete(s.clients, i, i+1)
	s.untrack(reg.viewer)
	s.logger.Info("client unregistered", "viewer", string(reg.viewer))
	return nil
}

// Viewers returns the viewer of every registered client, in registration order.
func (s *Source) Viewers() []visibility.ViewerKey {
	out := make([]visibility.ViewerKey, len(s.clients))
	for i, reg := range s.clients {
		out[i] = reg.viewer
	}
	return out
}

// View returns the projection state of a registered client.
func (s *Source) View(client Client) (*View, bool) {
	i := s.find(client)
	if i < 0 {
		return nil, false
	}
	return s.clients[i].view, true
}

// Flush delivers catch-ups for pending visibility changes now. It fails
// with BUFFERED_TRANSACTION while a buffered transaction is open, since the
// catch-ups would carry its uncommitted edits.
func (s *Source) Flush() error {
	if s.log.Buffered() {
		return bufferedTransaction("flush", "")
	}
	return s.flush()
}

func (s *Source) find(client Client) int {
	return slices.IndexFunc(s.clients, func(r *registration) bool { return r.client == client })
}

// untrack stops flip tracking for viewer unless another client still uses it.
func (s *Source) untrack(viewer visibility.ViewerKey) {
	for _, reg := range s.clients {
		if reg.viewer == viewer {
			return
		}
	}
	if tracker, ok := s.strategy.(visibility.ViewerTracker); ok {
		tracker.RemoveViewer(viewer)
	}
	s.records = slices.DeleteFunc(s.records, func(r visibilityRecord) bool { return r.viewer == viewer })
}

// onVisibilityChanged queues a flip. An opposite flip for the same object
// and viewer cancels the queued one; a repeated flip is idempotent.
func (s *Source) onVisibilityChanged(c visibility.Change) {
	i := slices.IndexFunc(s.records, func(r visibilityRecord) bool {
		return r.object == c.Object && r.viewer == c.Viewer
	})
	if i >= 0 {
		if s.records[i].visible != c.Visible {
			s.records = slices.Delete(s.records, i, i+1)
		}
		return
	}
	s.records = append(s.records, visibilityRecord{object: c.Object, viewer: c.Viewer, visible: c.Visible})
}

// flush delivers a catch-up for every queued "became visible" record to
// each client of that viewer. "Became invisible" records are dropped: a
// replica keeps what it has already seen.
func (s *Source) flush() error {
	if len(s.records) == 0 {
		return nil
	}
	records := s.records
	s.records = nil

	var errs []error
	for _, rec := range records {
		if !rec.visible {
			continue
		}
		for _, reg := range s.clients {
			if reg.viewer != rec.viewer {
				continue
			}
			cu := s.sync.CatchUp(reg.view, rec.object)
			if cu == nil {
				continue
			}
			s.logger.Debug("catch-up delivered",
				"viewer", string(reg.viewer),
				"object_id", int64(rec.object),
			)
			if err := reg.client.Synchronize(cu); err != nil {
				errs = append(errs, clientFailed(reg.viewer, "catch-up", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Source) onCommitted(c command.Command) error {
	errs := []error{s.flush()}
	for _, reg := range slices.Clone(s.clients) {
		proj, err := s.sync.Synchronize(reg.view, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if proj == nil || proj.IsEmpty() {
			continue
		}
		if err := reg.client.Synchronize(proj); err != nil {
			s.logger.Error("client delivery failed", "viewer", string(reg.viewer), "error", err)
			errs = append(errs, clientFailed(reg.viewer, "synchronize", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Source) onStarted(tx *txlog.Transaction) error {
	var errs []error
	for _, reg := range slices.Clone(s.clients) {
		if err := reg.client.BeginTransaction(tx.Type); err != nil {
			errs = append(errs, clientFailed(reg.viewer, "begin", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Source) onEnded(_ *txlog.Transaction, rollback bool) error {
	errs := []error{s.flush()}
	for _, reg := range slices.Clone(s.clients) {
		if err := reg.client.EndCurrentTransaction(rollback); err != nil {
			errs = append(errs, clientFailed(reg.viewer, "end", err))
		}
	}
	return errors.Join(errs...)
}

// logListener keeps the txlog.Listener methods off the Source API.
type logListener struct{ s *Source }

func (l logListener) CommandCommitted(c command.Command) error { return l.s.onCommitted(c) }

func (l logListener) TransactionStarted(tx *txlog.Transaction) error { return l.s.onStarted(tx) }

func (l logListener) TransactionEnded(tx *txlog.Transaction, rollback bool) error {
	return l.s.onEnded(tx, rollback)
}
