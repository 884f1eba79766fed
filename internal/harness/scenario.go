package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/state"
)

// Queue backends.
const (
	QueueDir    = "dir"
	QueueSQLite = "sqlite"
)

// Scenario defines one reconciliation run and its expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the drain's clock reading.
	Now string `yaml:"now"`

	// Queue selects the inbox backend; empty means dir.
	Queue string `yaml:"queue,omitempty"`

	// Documents seeds the state directory, keyed by document name.
	Documents map[string]map[string]any `yaml:"documents,omitempty"`

	// Deltas are enqueued in order before the drain.
	Deltas []DeltaStep `yaml:"deltas"`

	// Expect checks the drain counters.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions validate the final documents and queue.
	Assertions []Assertion `yaml:"assertions"`
}

// DeltaStep is one enqueued delta.
type DeltaStep struct {
	Action  string         `yaml:"action"`
	AgentID string         `yaml:"agent_id"`
	At      string         `yaml:"at"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Delta converts the step into a queue delta.
func (s DeltaStep) Delta() inbox.Delta {
	payload := s.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return inbox.Delta{
		Action:    inbox.Action(s.Action),
		AgentID:   s.AgentID,
		Timestamp: s.At,
		Payload:   payload,
	}
}

// ExpectClause checks drain counters. Nil fields are not checked.
type ExpectClause struct {
	Processed    *int `yaml:"processed,omitempty"`
	Errors       *int `yaml:"errors,omitempty"`
	DeadLettered *int `yaml:"dead_lettered,omitempty"`
	Pruned       *int `yaml:"pruned,omitempty"`
}

// Assertion validates the final documents or queue.
type Assertion struct {
	// Type is one of field, absent, count, pending, dead_letters.
	Type string `yaml:"type"`

	// Document names the document (field, absent, count).
	Document string `yaml:"document,omitempty"`

	// Path is the dotted path inside the document (field, absent, count).
	Path string `yaml:"path,omitempty"`

	// Equals is the expected value (field).
	Equals any `yaml:"equals,omitempty"`

	// Count is the expected size (count, pending, dead_letters).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertField       = "field"
	AssertAbsent      = "absent"
	AssertCount       = "count"
	AssertPending     = "pending"
	AssertDeadLetters = "dead_letters"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

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

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := state.ParseTimestamp(s.Now); err != nil {
		return fmt.Errorf("now: %w", err)
	}
	switch s.Queue {
	case "", QueueDir, QueueSQLite:
	default:
		return fmt.Errorf("unknown queue %q", s.Queue)
	}

	for name := range s.Documents {
		if !knownDocument(name) {
			return fmt.Errorf("documents: unknown document %q", name)
		}
	}

	for i, step := range s.Deltas {
		if step.Action == "" {
			return fmt.Errorf("deltas[%d]: action is required", i)
		}
		if step.AgentID == "" {
			return fmt.Errorf("deltas[%d]: agent_id is required", i)
		}
		if _, err := state.ParseTimestamp(step.At); err != nil {
			return fmt.Errorf("deltas[%d]: at: %w", i, err)
		}
	}

	if len(s.Assertions) == 0 && s.Expect == nil {
		return fmt.Errorf("expect or assertions are required")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertField, AssertAbsent, AssertCount:
		if !knownDocument(a.Document) {
			return fmt.Errorf("assertions[%d]: unknown document %q", index, a.Document)
		}
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertPending, AssertDeadLetters:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}

func knownDocument(name string) bool {
	for _, n := range state.AllNames {
		if string(n) == name {
			return true
		}
	}
	return false
}
