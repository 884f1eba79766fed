package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
now: "2026-02-14T12:00:00Z"
queue: sqlite
documents:
  stats:
    total_agents: 3
deltas:
  - action: heartbeat
    agent_id: ada
    at: "2026-02-14T11:00:00Z"
    payload:
      subscribed_channels: [general]
expect:
  processed: 1
assertions:
  - type: field
    document: agents
    path: agents.ada.status
    equals: active
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", s.Name)
	assert.Equal(t, QueueSQLite, s.Queue)
	assert.Equal(t, 3, s.Documents["stats"]["total_agents"])
	require.Len(t, s.Deltas, 1)
	assert.Equal(t, "heartbeat", string(s.Deltas[0].Delta().Action))
	assert.Equal(t, "2026-02-14T11:00:00Z", s.Deltas[0].Delta().Timestamp)
	require.NotNil(t, s.Expect.Processed)
	assert.Equal(t, 1, *s.Expect.Processed)
	assert.Nil(t, s.Expect.Errors)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, "active", s.Assertions[0].Equals)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "assertion instead of assertions"
now: "2026-02-14T12:00:00Z"
assertion:
  - type: pending
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nnow: \"2026-02-14T12:00:00Z\"\nassertions: [{type: pending}]\n",
			wantErr: "name is required",
		},
		{
			name:    "bad now",
			content: "name: n\ndescription: d\nnow: tomorrow\nassertions: [{type: pending}]\n",
			wantErr: "now:",
		},
		{
			name:    "unknown queue",
			content: "name: n\ndescription: d\nnow: \"2026-02-14T12:00:00Z\"\nqueue: kafka\nassertions: [{type: pending}]\n",
			wantErr: `unknown queue "kafka"`,
		},
		{
			name:    "unknown document",
			content: "name: n\ndescription: d\nnow: \"2026-02-14T12:00:00Z\"\ndocuments:\n  users: {}\nassertions: [{type: pending}]\n",
			wantErr: `unknown document "users"`,
		},
		{
			name:    "delta without agent",
			content: "name: n\ndescription: d\nnow: \"2026-02-14T12:00:00Z\"\ndeltas:\n  - {action: poke, at: \"2026-02-14T11:00:00Z\"}\nassertions: [{type: pending}]\n",
			wantErr: "deltas[0]: agent_id is required",
		},
		{
			name:    "nothing to check",
			content: "name: n\ndescription: d\nnow: \"2026-02-14T12:00:00Z\"\n",
			wantErr: "expect or assertions are required",
		},
		{
			name:    "field without path",
			content: "name: n\ndescription: d\nnow: \"2026-02-14T12:00:00Z\"\nassertions: [{type: field, document: agents}]\n",
			wantErr: "path is required for field",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nnow: \"2026-02-14T12:00:00Z\"\nassertions: [{type: trace_order}]\n",
			wantErr: `unknown assertion type "trace_order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarios_SortedByFile(t *testing.T) {
	scenarios, err := LoadScenarios(scenarioDir)
	require.NoError(t, err)

	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"change_retention",
		"channel_conflicts",
		"dormant_revival",
		"duplicate_registration",
		"poke_and_unknown_action",
		"register_then_heartbeat",
	}, names)
}
