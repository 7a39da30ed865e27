// Package state holds the object graph that commands mutate.
//
// A Manager owns every Object in one graph: the canonical game state, or a
// client's replica of it. Objects are addressed by ID, never by pointer, so
// the same command can be applied to any graph where the ID means "the
// corresponding object".
//
// CONTROL MODES:
//
//	ControlModeMaster        mutated directly by the rule engine
//	ControlModeSynchronized  mutated only inside Replicate(fn)
//
// A synchronized manager rejects any other mutation with REPLICA_MUTATION.
// That keeps a replica from diverging from what its source sent it.
//
// IDENTIFIERS:
//
// IDs come from a monotonic counter (Allocate). A manager that receives an
// explicit ID (Insert) advances its counter past it, so a replica that replays
// the same creations ends up with the same IDs.
package state
