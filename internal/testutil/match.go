package testutil

// FixedMatchGenerator returns the same match id every time.
//
// Scenario runs use it so stored traces and golden files are byte-identical
// across runs. Unlike engine.FixedGenerator, which hands out a sequence, the
// id never changes.
//
// Thread-safety: FixedMatchGenerator is stateless and safe for concurrent use.
type FixedMatchGenerator struct {
	id string
}

// NewFixedMatchGenerator creates a generator for id. An empty id becomes
// "test-match-default".
func NewFixedMatchGenerator(id string) *FixedMatchGenerator {
	if id == "" {
		id = "test-match-default"
	}
	return &FixedMatchGenerator{id: id}
}

// Generate implements engine.MatchIDGenerator.
func (g *FixedMatchGenerator) Generate() string {
	return g.id
}
