// Package command defines the edits applied to an object graph.
//
// Every command references objects by state.ID and is resolved against
// whichever Manager it is applied to: the canonical graph or a replica.
//
// COMMANDS:
//
//	SetProperty   assign or remove one property, remembering the previous value
//	CreateObject  insert an object with a fixed ID
//	RemoveObject  delete an object, carrying its full snapshot
//	Snapshot      create-or-overwrite catch-up, not reversible
//	MultiCommand  ordered group, inverse is the reversed child inverses
//
// SYNCHRONIZATION:
//
// Each command carries a SynchronizationKind chosen at construction:
//
//	Structural       passed to every viewer unchanged
//	Public           visible to every viewer, delivered via Synchronize()
//	VisibilityGated  delivered only while the target is visible
//	Composite        projected child by child
//
// Constructors default to VisibilityGated; use AsPublic or AsStructural
// to override.
package command
