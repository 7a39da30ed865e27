// Package harness runs replication scenarios.
//
// A scenario is a YAML file naming players, the viewers attached before play,
// a list of table steps and a list of assertions. Steps drive a
// cardgame.Table directly so a scenario controls transaction boundaries;
// game and player setup runs as one atomic engine action.
//
// Each viewer's replica sits behind a store.Recorder, so the delivery trace
// assertions and golden files see is the one read back from the trace store.
//
// Assertions:
//   - sees / not_sees: whether a viewer's replica holds an object
//   - property: a replica's property value (absent when value is omitted)
//   - delivery_count: how many calls a viewer received, optionally per kind
//   - converged: every visible object matches canonical state
//
// Golden files live in testdata/golden and hold canonical JSON. Regenerate
// them with:
//
//	go test ./internal/harness -update
package harness
