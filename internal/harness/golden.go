package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tablesync/internal/ir"
)

// TraceSnapshot captures what every viewer was delivered in a scenario.
type TraceSnapshot struct {
	ScenarioName string
	MatchID      string
	Digest       string
	Trace        []TraceEvent
}

// toCanonicalMap converts the snapshot for canonical JSON serialization,
// grouping delivery lines by viewer.
func (s *TraceSnapshot) toCanonicalMap() ir.Map {
	viewers := ir.Map{}
	for _, ev := range s.Trace {
		lines, _ := viewers[ev.Viewer].(ir.List)
		viewers[ev.Viewer] = append(lines, ir.String(ev.Line))
	}
	return ir.Map{
		"scenario_name": ir.String(s.ScenarioName),
		"match_id":      ir.String(s.MatchID),
		"digest":        ir.String(s.Digest),
		"deliveries":    viewers,
	}
}

// MarshalGolden renders a result as the canonical JSON stored in golden files.
func MarshalGolden(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		MatchID:      result.MatchID,
		Digest:       result.Digest,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// AssertGolden compares a result's delivery trace against
// testdata/golden/{name}.golden. Options are applied after the defaults.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := MarshalGolden(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, name, data)
	return nil
}
