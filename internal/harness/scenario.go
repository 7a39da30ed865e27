package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/cardgame"
	"github.com/roach88/tablesync/internal/txlog"
)

// Scenario defines a replication scenario.
// A scenario plays a sequence of table steps with viewers attached and
// asserts on what each viewer's replica ended up holding.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// MatchID is an optional fixed match id. Defaults to "test-match-default".
	MatchID string `yaml:"match_id,omitempty"`

	// Buffering selects the log's buffering: per-transaction, always or never.
	Buffering string `yaml:"buffering,omitempty"`

	// Players are added to a fresh game before the first step. Each player
	// object can be referenced by the player's name.
	Players []string `yaml:"players"`

	// Viewers are registered before the first step. Use a register step to
	// attach a viewer later.
	Viewers []string `yaml:"viewers"`

	// Steps mutate the table in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the replicas after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one table operation. Op selects which fields apply.
type Step struct {
	// Op is one of the Step* constants.
	Op string `yaml:"op"`

	// Ref names the object a step creates or targets.
	Ref string `yaml:"ref,omitempty"`

	// Owner, Zone and Props describe a created card (create, draw).
	Owner string         `yaml:"owner,omitempty"`
	Zone  string         `yaml:"zone,omitempty"`
	Props map[string]any `yaml:"props,omitempty"`

	// FaceDown creates the card with a stub projection.
	FaceDown bool `yaml:"face_down,omitempty"`

	// Source is the ref of an ability's source card.
	Source string `yaml:"source,omitempty"`

	// Property and Value describe a set. A missing value removes the property.
	Property string `yaml:"property,omitempty"`
	Value    any    `yaml:"value,omitempty"`

	// Sync overrides a set's synchronization: gated, public or structural.
	Sync string `yaml:"sync,omitempty"`

	// Name and Type describe a begin.
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type,omitempty"`

	// Rollback ends the current transaction by reverting it.
	Rollback bool `yaml:"rollback,omitempty"`

	// Viewer is registered by a register step, and becomes active by a turn step.
	Viewer string `yaml:"viewer,omitempty"`
}

// GameRef references the game object every scenario starts with.
const GameRef = "game"

// Step ops.
const (
	StepBegin    = "begin"
	StepEnd      = "end"
	StepCreate   = "create"
	StepAbility  = "ability"
	StepMove     = "move"
	StepSet      = "set"
	StepRemove   = "remove"
	StepDraw     = "draw"
	StepTurn     = "turn"
	StepUndo     = "undo"
	StepRedo     = "redo"
	StepRegister = "register"
)

// Assertion validates a viewer's replica or delivery trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "sees": the viewer's replica holds Ref
	// - "not_sees": the viewer's replica does not hold Ref
	// - "property": the replica's Ref has Property equal to Value (absent if Value is missing)
	// - "delivery_count": the viewer received Count deliveries (of Kind, if set)
	// - "converged": every object visible to Viewer (every viewer if empty) matches canonical state
	Type string `yaml:"type"`

	Viewer   string `yaml:"viewer,omitempty"`
	Ref      string `yaml:"ref,omitempty"`
	Property string `yaml:"property,omitempty"`
	Value    any    `yaml:"value,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Count    *int   `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertSees          = "sees"
	AssertNotSees       = "not_sees"
	AssertProperty      = "property"
	AssertDeliveryCount = "delivery_count"
	AssertConverged     = "converged"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := txlog.ParseBuffering(s.Buffering); err != nil {
		return err
	}

	viewers := make(map[string]bool)
	for i, v := range s.Viewers {
		if v == "" {
			return fmt.Errorf("viewers[%d]: empty viewer", i)
		}
		if viewers[v] {
			return fmt.Errorf("viewers[%d]: duplicate viewer %q", i, v)
		}
		viewers[v] = true
	}

	refs := map[string]bool{GameRef: true}
	for _, p := range s.Players {
		if refs[p] {
			return fmt.Errorf("duplicate player %q", p)
		}
		refs[p] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, refs, viewers); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, refs, viewers); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates one step and records the refs and viewers it introduces.
func validateStep(i int, st *Step, refs, viewers map[string]bool) error {
	needRef := func() error {
		if st.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, st.Op)
		}
		if !refs[st.Ref] {
			return fmt.Errorf("steps[%d]: unknown ref %q", i, st.Ref)
		}
		return nil
	}
	newRef := func() error {
		if st.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, st.Op)
		}
		if refs[st.Ref] {
			return fmt.Errorf("steps[%d]: duplicate ref %q", i, st.Ref)
		}
		refs[st.Ref] = true
		return nil
	}
	zone := func() error {
		if !cardgame.IsZone(st.Zone) {
			return fmt.Errorf("steps[%d]: unknown zone %q", i, st.Zone)
		}
		return nil
	}

	switch st.Op {
	case StepBegin:
		if _, err := txlog.ParseType(st.Type); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	case StepEnd, StepUndo, StepRedo:
	case StepCreate:
		if st.Owner == "" {
			return fmt.Errorf("steps[%d]: owner is required for create", i)
		}
		if err := zone(); err != nil {
			return err
		}
		return newRef()
	case StepAbility:
		if st.Source == "" || !refs[st.Source] {
			return fmt.Errorf("steps[%d]: unknown source %q", i, st.Source)
		}
		return newRef()
	case StepMove:
		if err := zone(); err != nil {
			return err
		}
		return needRef()
	case StepSet:
		if st.Property == "" {
			return fmt.Errorf("steps[%d]: property is required for set", i)
		}
		switch st.Sync {
		case "", "gated", "public", "structural":
		default:
			return fmt.Errorf("steps[%d]: unknown sync %q", i, st.Sync)
		}
		return needRef()
	case StepRemove:
		return needRef()
	case StepDraw:
		if st.Owner == "" {
			return fmt.Errorf("steps[%d]: owner is required for draw", i)
		}
		return newRef()
	case StepTurn:
		if st.Viewer == "" {
			return fmt.Errorf("steps[%d]: viewer is required for turn", i)
		}
	case StepRegister:
		if st.Viewer == "" {
			return fmt.Errorf("steps[%d]: viewer is required for register", i)
		}
		if viewers[st.Viewer] {
			return fmt.Errorf("steps[%d]: viewer %q already registered", i, st.Viewer)
		}
		viewers[st.Viewer] = true
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, refs, viewers map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Viewer != "" && !viewers[a.Viewer] {
		return fmt.Errorf("assertions[%d]: unknown viewer %q", index, a.Viewer)
	}

	switch a.Type {
	case AssertSees, AssertNotSees, AssertProperty:
		if a.Viewer == "" {
			return fmt.Errorf("assertions[%d]: viewer is required for %s", index, a.Type)
		}
		if !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
		}
		if a.Type == AssertProperty && a.Property == "" {
			return fmt.Errorf("assertions[%d]: property is required for property", index)
		}
	case AssertDeliveryCount:
		if a.Viewer == "" {
			return fmt.Errorf("assertions[%d]: viewer is required for delivery_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for delivery_count", index)
		}
		switch a.Kind {
		case "", "sync", "begin", "end":
		default:
			return fmt.Errorf("assertions[%d]: unknown delivery kind %q", index, a.Kind)
		}
	case AssertConverged:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
