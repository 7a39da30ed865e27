// Package store is the SQLite audit trace of a replicated table.
//
// Two append-only tables are kept per match:
//   - commits: every command the canonical log dispatched, as canonical JSON
//   - deliveries: every call each viewer's client received, sync commands
//     and transaction boundaries alike
//
// Ordering uses the seq column stamped from a logical Sequencer, never wall
// time, and every read is ORDER BY seq ASC, id ASC so replays are
// deterministic.
//
// CommitWriter is a txlog.Listener that writes commits. Recorder decorates a
// replication.Client and writes each delivery before forwarding it. Replay
// rebuilds the canonical graph from stored commits.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
