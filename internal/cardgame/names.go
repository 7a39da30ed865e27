package cardgame

import (
	"slices"

	"github.com/roach88/tablesync/internal/state"
)

// Object kinds.
const (
	KindGame    state.Kind = "game"
	KindPlayer  state.Kind = "player"
	KindCard    state.Kind = "card"
	KindToken   state.Kind = "token"
	KindAbility state.Kind = "ability"
)

// Zones.
const (
	ZoneLibrary     = "library"
	ZoneHand        = "hand"
	ZoneBattlefield = "battlefield"
	ZoneGraveyard   = "graveyard"
	ZoneExile       = "exile"
	ZoneStack       = "stack"
	ZoneCommand     = "command"
)

// Zones lists every zone in table order.
var Zones = []string{
	ZoneLibrary, ZoneHand, ZoneBattlefield, ZoneGraveyard, ZoneExile, ZoneStack, ZoneCommand,
}

// Property names.
const (
	PropZone       = "zone"
	PropOwner      = "owner"
	PropController = "controller"
	PropSource     = "source"
	PropName       = "name"
	PropPower      = "power"
	PropToughness  = "toughness"
	PropFace       = "face"
	PropTapped     = "tapped"
	PropLife       = "life"
	PropTurn       = "turn"
	PropActive     = "active_player"
)

// StartingLife is a new player's life total.
const StartingLife = 20

// IsZone reports whether name is a known zone.
func IsZone(name string) bool {
	return slices.Contains(Zones, name)
}
