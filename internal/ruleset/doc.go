// Package ruleset loads visibility policies written in CUE.
//
// A ruleset declares how each object kind is scoped and who may see each
// zone:
//
//	ruleset: {
//		name: "tabletop"
//		kinds: { card: "zoned", ability: "derived", player: "global" }
//		zones: { hand: "private", library: "hidden", battlefield: "public" }
//	}
//
// Property names default to zone, owner, source and controller and may be
// overridden under properties. The embedded tabletop ruleset is used when no
// directory is given.
package ruleset
