package cardgame

import (
	"errors"
	"fmt"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/txlog"
)

// ErrUnknownZone is returned for a zone not in Zones.
var ErrUnknownZone = errors.New("unknown zone")

// ErrEmptyLibrary is returned by Draw when the player has no library cards.
var ErrEmptyLibrary = errors.New("library is empty")

// Table issues card-game commands through the canonical log.
type Table struct {
	log *txlog.Log
}

// NewTable wraps log.
func NewTable(log *txlog.Log) *Table {
	return &Table{log: log}
}

// Log returns the canonical log.
func (t *Table) Log() *txlog.Log { return t.log }

// State returns the canonical graph.
func (t *Table) State() *state.Manager { return t.log.State() }

// CreateGame creates the game object with the turn counter at 1.
func (t *Table) CreateGame() (state.ID, error) {
	c := command.Create(t.State(), KindGame, ir.Map{PropTurn: ir.Int(1)})
	return c.Target(), t.log.Do(c)
}

// AddPlayer creates a player object for viewer name.
func (t *Table) AddPlayer(name string) (state.ID, error) {
	c := command.Create(t.State(), KindPlayer, ir.Map{
		PropName: ir.String(name),
		PropLife: ir.Int(StartingLife),
	})
	return c.Target(), t.log.Do(c)
}

// CreateCard creates a card owned by owner in zone. The owner also
// controls it.
func (t *Table) CreateCard(owner, zone string, props ir.Map, opts ...command.Option) (state.ID, error) {
	if !IsZone(zone) {
		return 0, fmt.Errorf("create card: %w: %q", ErrUnknownZone, zone)
	}
	all := props.Clone()
	if all == nil {
		all = ir.Map{}
	}
	all[PropOwner] = ir.String(owner)
	all[PropController] = ir.String(owner)
	all[PropZone] = ir.String(zone)
	c := command.Create(t.State(), KindCard, all, opts...)
	return c.Target(), t.log.Do(c)
}

// CreateFaceDown creates a card whose existence is revealed wherever it is
// visible but whose face stays hidden: replicas receive a stub carrying
// only its zone, owner and face. A later reveal delivers a full snapshot.
func (t *Table) CreateFaceDown(owner, zone string, props ir.Map) (state.ID, error) {
	all := props.Clone()
	if all == nil {
		all = ir.Map{}
	}
	all[PropFace] = ir.String("down")
	return t.CreateCard(owner, zone, all, command.WithProjection(func(c *command.CreateObject) command.Command {
		return c.Stub(PropZone, PropOwner, PropController, PropFace)
	}))
}

// Move changes a card's zone.
func (t *Table) Move(id state.ID, zone string) error {
	if !IsZone(zone) {
		return fmt.Errorf("move %s: %w: %q", id, ErrUnknownZone, zone)
	}
	return t.Set(id, PropZone, ir.String(zone))
}

// Set assigns a visibility gated property. A nil value removes it.
func (t *Table) Set(id state.ID, name string, v ir.Value, opts ...command.Option) error {
	c, err := command.Set(t.State(), id, name, v, opts...)
	if err != nil {
		return err
	}
	return t.log.Do(c)
}

// Remove deletes an object.
func (t *Table) Remove(id state.ID) error {
	c, err := command.Remove(t.State(), id)
	if err != nil {
		return err
	}
	return t.log.Do(c)
}

// AddAbility creates an ability derived from source.
func (t *Table) AddAbility(source state.ID, props ir.Map) (state.ID, error) {
	if !t.State().Has(source) {
		return 0, fmt.Errorf("add ability: source %s not found", source)
	}
	all := props.Clone()
	if all == nil {
		all = ir.Map{}
	}
	all[PropSource] = ir.Int(source)
	c := command.Create(t.State(), KindAbility, all)
	return c.Target(), t.log.Do(c)
}

// Draw moves the owner's lowest-numbered library card to their hand.
func (t *Table) Draw(owner string) (state.ID, error) {
	for _, obj := range t.State().Objects() {
		if obj.Kind() == KindCard && obj.String(PropOwner) == owner && obj.String(PropZone) == ZoneLibrary {
			return obj.ID(), t.Move(obj.ID(), ZoneHand)
		}
	}
	return 0, fmt.Errorf("draw for %s: %w", owner, ErrEmptyLibrary)
}

// AdvanceTurn increments the game's turn counter and hands the turn to
// active. Both changes are public.
func (t *Table) AdvanceTurn(game state.ID, active string) error {
	obj, ok := t.State().Get(game)
	if !ok {
		return fmt.Errorf("advance turn: game %s not found", game)
	}
	if err := t.Set(game, PropTurn, ir.Int(obj.Int(PropTurn)+1), command.AsPublic()); err != nil {
		return err
	}
	return t.Set(game, PropActive, ir.String(active), command.AsPublic())
}
