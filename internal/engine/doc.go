// Package engine drives a card table from a single goroutine.
//
// Rule-engine code is packaged as Actions. Each action runs inside a
// transaction of its declared type on the canonical log; when the action
// returns an error every transaction it opened is rolled back and the
// engine moves on ("log and continue"). There are no retries.
//
// Single-Writer Loop:
// Actions may be enqueued from any goroutine, but Run executes them one at
// a time on its own goroutine. The canonical graph, the log and every
// replication callback are only touched from that goroutine, so each viewer
// receives commands in exactly the order they were committed.
//
// Logical Clock:
// Trace rows are stamped from Clock.Next(), never wall time.
package engine
