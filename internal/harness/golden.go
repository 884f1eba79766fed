package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/rappterbook/rappterd/internal/state"
)

// Snapshot is the part of a result compared against golden files: the
// drain counters and the change log, which together record what applied.
type Snapshot struct {
	Scenario     string         `json:"scenario"`
	Processed    int            `json:"processed"`
	Errors       []string       `json:"errors"`
	DeadLettered int            `json:"dead_lettered"`
	Changes      []state.Change `json:"changes"`
}

// NewSnapshot extracts the golden snapshot from a result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		Scenario:     name,
		Processed:    result.Drain.Processed,
		Errors:       result.Drain.Errors,
		DeadLettered: result.Drain.DeadLettered,
		Changes:      result.Changes,
	}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario, fails t on any expect or assertion
// error, and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	data, err := NewSnapshot(scenario.Name, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
