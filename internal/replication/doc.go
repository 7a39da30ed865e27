// Package replication drives per-viewer replicas from the canonical log.
//
// A Source subscribes to a txlog.Log and a visibility.Strategy. For every
// dispatched command it asks the Synchronizer for each registered client's
// projection: structural and public commands pass through, gated commands
// are delivered when the target is visible to the client's viewer and
// suppressed into the View's pending updates otherwise. When an object
// becomes visible, the Source delivers a catch-up before the next command
// or transaction end reaches the client.
//
// A replica that holds a full copy of an object receives its compacted
// pending history as the catch-up. Any other replica receives a Snapshot of
// the object's current canonical properties. Objects that become invisible
// stay in the replica with their last seen values.
//
// Replica is the standard Client: a synchronized state.Manager that applies
// what it is sent.
package replication
