package inbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action names a kind of delta.
type Action string

// Known actions.
const (
	ActionRegisterAgent Action = "register_agent"
	ActionHeartbeat     Action = "heartbeat"
	ActionPoke          Action = "poke"
	ActionCreateChannel Action = "create_channel"
	ActionUpdateProfile Action = "update_profile"
)

// Actions lists every known action.
var Actions = []Action{
	ActionRegisterAgent,
	ActionHeartbeat,
	ActionPoke,
	ActionCreateChannel,
	ActionUpdateProfile,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Delta is one pending mutation request. Timestamp is the producer's clock
// at acceptance time.
type Delta struct {
	Action    Action         `json:"action"`
	AgentID   string         `json:"agent_id"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// FileName returns the queue id of the delta: the agent id followed by the
// timestamp with ':' replaced by '-'.
func (d Delta) FileName() string {
	return d.AgentID + "-" + strings.ReplaceAll(d.Timestamp, ":", "-") + ".json"
}

// Has reports whether key is present in the payload, even if null.
func (d Delta) Has(key string) bool {
	_, ok := d.Payload[key]
	return ok
}

// String returns a string payload field. It reports false when the key is
// absent or not a string.
func (d Delta) String(key string) (string, bool) {
	s, ok := d.Payload[key].(string)
	return s, ok
}

// StringOr returns a string payload field, or def when it is absent.
func (d Delta) StringOr(key, def string) string {
	if s, ok := d.String(key); ok {
		return s
	}
	return def
}

// OptionalString returns a nullable string payload field. Null, absent and
// non-string values all yield nil.
func (d Delta) OptionalString(key string) *string {
	if s, ok := d.String(key); ok {
		return &s
	}
	return nil
}

// Strings returns a list-of-strings payload field. Non-string elements are
// skipped. It reports false when the key is absent or not a list.
func (d Delta) Strings(key string) ([]string, bool) {
	raw, ok := d.Payload[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// Encode renders the delta as it is stored in the queue.
func Encode(d Delta) ([]byte, error) {
	if d.Payload == nil {
		d.Payload = map[string]any{}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a stored delta. It fails when the content is not a JSON
// object or the agent_id is missing; the action is not checked here.
func Decode(data []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return Delta{}, fmt.Errorf("decode delta: %w", err)
	}
	if d.AgentID == "" {
		return Delta{}, fmt.Errorf("decode delta: missing agent_id")
	}
	if d.Payload == nil {
		d.Payload = map[string]any{}
	}
	return d, nil
}
