package harness

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/tablesync/internal/cardgame"
	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/replication"
	"github.com/roach88/tablesync/internal/ruleset"
	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/testutil"
	"github.com/roach88/tablesync/internal/txlog"
	"github.com/roach88/tablesync/internal/visibility"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	store  *store.Store
	policy *visibility.Policy
	logger *slog.Logger
	ids    engine.MatchIDGenerator
	// buffering overrides the scenario's buffering when set.
	buffering *txlog.Buffering
	access    func(*visibility.Rules) visibility.AccessStrategy
}

// WithStore traces into s instead of a fresh in-memory store. The caller
// keeps ownership of s.
func WithStore(s *store.Store) Option {
	return func(c *runConfig) { c.store = s }
}

// WithPolicy replaces the embedded tabletop policy.
func WithPolicy(p visibility.Policy) Option {
	return func(c *runConfig) { c.policy = &p }
}

// WithLogger sets the logger handed to every component. Logs are
// discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithMatchIDGenerator overrides the scenario's fixed match id.
func WithMatchIDGenerator(g engine.MatchIDGenerator) Option {
	return func(c *runConfig) { c.ids = g }
}

// WithBuffering overrides the buffering named by the scenario.
func WithBuffering(b txlog.Buffering) Option {
	return func(c *runConfig) { c.buffering = &b }
}

// WithAccessStrategy replicates through an access strategy built over the
// scenario's rules: viewers see what they may read.
func WithAccessStrategy(build func(*visibility.Rules) visibility.AccessStrategy) Option {
	return func(c *runConfig) { c.access = build }
}

// viewerState is one registered viewer: its replica and the client the
// source delivers to.
type viewerState struct {
	key     visibility.ViewerKey
	replica *replication.Replica
	client  replication.Client
}

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and match id.
type Harness struct {
	ctx     context.Context
	store   *store.Store
	engine  *engine.Engine
	visible visibility.Strategy
	source  *replication.Source
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
	refs    map[string]state.ID
	viewers []*viewerState
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh in-memory trace store (unless WithStore)
//  2. Build the canonical graph, log, rules and source
//  3. Create the game and players in one atomic engine action
//  4. Register the initial viewers, each behind a store.Recorder
//  5. Execute steps directly on the table, in order
//  6. Read the delivery trace back and evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ids == nil {
		cfg.ids = testutil.NewFixedMatchGenerator(scenario.MatchID)
	}
	if cfg.policy == nil {
		p := ruleset.MustDefault().Policy
		cfg.policy = &p
	}

	st := cfg.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	buffering, err := txlog.ParseBuffering(scenario.Buffering)
	if err != nil {
		return nil, err
	}
	if cfg.buffering != nil {
		buffering = *cfg.buffering
	}

	// Resume the clock past rows already in a shared store.
	lastSeq, err := st.GetLastSeq(ctx)
	if err != nil {
		return nil, err
	}
	clock := testutil.NewDeterministicClockAt(lastSeq)

	m := state.NewManager(state.ControlModeMaster)
	log := txlog.New(m, txlog.WithBuffering(buffering), txlog.WithLogger(cfg.logger))
	rules, err := visibility.NewRules(m, *cfg.policy, visibility.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build rules: %w", err)
	}
	defer rules.Close()
	var strategy visibility.Strategy = rules
	if cfg.access != nil {
		access := cfg.access(rules)
		if closer, ok := access.(interface{ Close() }); ok {
			defer closer.Close()
		}
		strategy = visibility.VisibilityFromAccess(access)
	}
	src := replication.NewSource(log, strategy, replication.WithLogger(cfg.logger))
	defer src.Close()

	eng := engine.New(log,
		engine.WithLogger(cfg.logger),
		engine.WithClock(clock),
		engine.WithMatchIDGenerator(cfg.ids),
	)
	defer eng.Trace(ctx, st)()

	h := &Harness{
		ctx:     ctx,
		store:   st,
		engine:  eng,
		visible: strategy,
		source:  src,
		clock:   clock,
		logger:  cfg.logger,
		refs:    make(map[string]state.ID),
	}

	if err := h.setup(scenario.Players); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	for _, v := range scenario.Viewers {
		if err := h.register(v); err != nil {
			return nil, err
		}
	}
	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	result := NewResult()
	result.MatchID = eng.MatchID()
	if result.Digest, err = m.Digest(nil); err != nil {
		return nil, err
	}
	if err := h.readTrace(result); err != nil {
		return nil, err
	}

	for _, msg := range h.evaluate(scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// setup creates the game and players as one atomic action.
func (h *Harness) setup(players []string) error {
	return h.engine.Submit(engine.Action{
		Name: "setup",
		Type: txlog.Atomic,
		Run: func(tb *cardgame.Table) error {
			game, err := tb.CreateGame()
			if err != nil {
				return err
			}
			h.refs[GameRef] = game
			for _, p := range players {
				id, err := tb.AddPlayer(p)
				if err != nil {
					return err
				}
				h.refs[p] = id
			}
			return nil
		},
	})
}

func (h *Harness) register(viewer string) error {
	key := visibility.ViewerKey(viewer)
	replica := replication.NewReplica(replication.WithReplicaLogger(h.logger))
	client := store.NewRecorder(h.ctx, h.store, h.engine.MatchID(), key, h.clock, replica)
	if err := h.source.Register(key, client); err != nil {
		return fmt.Errorf("register %s: %w", viewer, err)
	}
	h.viewers = append(h.viewers, &viewerState{key: key, replica: replica, client: client})
	return nil
}

func (h *Harness) viewer(name string) *viewerState {
	for _, v := range h.viewers {
		if string(v.key) == name {
			return v
		}
	}
	return nil
}

// execute applies one step to the table.
func (h *Harness) execute(st Step) error {
	tb := h.engine.Table()

	switch st.Op {
	case StepBegin:
		typ, err := txlog.ParseType(st.Type)
		if err != nil {
			return err
		}
		name := st.Name
		if name == "" {
			name = typ.String()
		}
		_, err = tb.Log().Begin(name, typ)
		return err

	case StepEnd:
		return tb.Log().End(st.Rollback)

	case StepCreate:
		props, err := toProps(st.Props)
		if err != nil {
			return err
		}
		var id state.ID
		if st.FaceDown {
			id, err = tb.CreateFaceDown(st.Owner, st.Zone, props)
		} else {
			id, err = tb.CreateCard(st.Owner, st.Zone, props)
		}
		h.refs[st.Ref] = id
		return err

	case StepAbility:
		props, err := toProps(st.Props)
		if err != nil {
			return err
		}
		id, err := tb.AddAbility(h.refs[st.Source], props)
		h.refs[st.Ref] = id
		return err

	case StepMove:
		return tb.Move(h.refs[st.Ref], st.Zone)

	case StepSet:
		var v ir.Value
		if st.Value != nil {
			var err error
			if v, err = ir.FromAny(st.Value); err != nil {
				return fmt.Errorf("value: %w", err)
			}
		}
		var opts []command.Option
		switch st.Sync {
		case "public":
			opts = append(opts, command.AsPublic())
		case "structural":
			opts = append(opts, command.AsStructural())
		}
		return tb.Set(h.refs[st.Ref], st.Property, v, opts...)

	case StepRemove:
		return tb.Remove(h.refs[st.Ref])

	case StepDraw:
		id, err := tb.Draw(st.Owner)
		h.refs[st.Ref] = id
		return err

	case StepTurn:
		return tb.AdvanceTurn(h.refs[GameRef], st.Viewer)

	case StepUndo:
		return tb.Log().Undo()

	case StepRedo:
		return tb.Log().Redo()

	case StepRegister:
		return h.register(st.Viewer)

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// readTrace loads every viewer's deliveries from the store, in seq order.
func (h *Harness) readTrace(result *Result) error {
	viewers, err := h.store.ListViewers(h.ctx, result.MatchID)
	if err != nil {
		return err
	}
	var all []TraceEvent
	for _, v := range viewers {
		deliveries, err := h.store.ReadDeliveries(h.ctx, result.MatchID, v)
		if err != nil {
			return err
		}
		for _, d := range deliveries {
			all = append(all, TraceEvent{
				Seq:    d.Seq,
				Viewer: d.Viewer,
				Kind:   d.Kind,
				Line:   DeliveryLine(d),
			})
		}
	}
	sortTrace(all)
	result.Trace = append(result.Trace, all...)
	return nil
}

// DeliveryLine renders a stored delivery the way testutil.Call.String does.
func DeliveryLine(d store.Delivery) string {
	return testutil.Call{
		Kind:     testutil.CallKind(d.Kind),
		Command:  d.Command,
		Type:     d.TxType,
		Rollback: d.Rollback,
	}.String()
}

func toProps(in map[string]any) (ir.Map, error) {
	if len(in) == 0 {
		return nil, nil
	}
	v, err := ir.FromAny(in)
	if err != nil {
		return nil, fmt.Errorf("props: %w", err)
	}
	return v.(ir.Map), nil
}

func sortTrace(events []TraceEvent) {
	slices.SortStableFunc(events, func(a, b TraceEvent) int { return cmp.Compare(a.Seq, b.Seq) })
}
