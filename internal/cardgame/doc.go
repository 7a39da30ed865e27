// Package cardgame names the kinds, zones and properties of a tabletop card
// game and builds the commands rule code issues against them.
//
// A Table wraps the canonical txlog.Log. Every helper builds a command
// against the current graph, so previous values are captured, and does it
// through the log so replication sees it. Zone moves are visibility gated;
// the turn counter is public.
package cardgame
