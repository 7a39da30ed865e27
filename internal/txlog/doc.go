// Package txlog is the canonical command stream.
//
// A Log applies commands to the master graph and tells its listeners what
// replicas may observe. Transactions nest; each frame is either forwarded
// live or buffered until the outermost buffered frame commits.
//
//	non-atomic  Begin, each command, End are dispatched as they happen
//	atomic      nothing is dispatched until commit, then one MultiCommand
//
// Rolling back an atomic transaction reverts the master and dispatches
// nothing. Rolling back a non-atomic transaction dispatches the inverse of
// what it did, then End with rollback=true.
//
// The journal is every dispatched command in order. Replaying it against an
// empty graph rebuilds the master.
package txlog
