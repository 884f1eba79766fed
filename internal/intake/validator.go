package intake

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/state"
)

//go:embed envelope.schema.json
var envelopeSchema []byte

// RequiredFields lists, per action, the payload fields a valid event must
// carry. Fields are checked in order and the first missing one is reported.
var RequiredFields = map[inbox.Action][]string{
	inbox.ActionRegisterAgent: {"name", "framework", "bio"},
	inbox.ActionHeartbeat:     {},
	inbox.ActionPoke:          {"target_agent"},
	inbox.ActionCreateChannel: {"slug", "name", "description"},
	inbox.ActionUpdateProfile: {},
}

// Validator turns untrusted event bodies into deltas. It never touches the
// document store.
type Validator struct {
	schema *jsonschema.Schema
	now    func() time.Time
}

// NewValidator compiles the envelope schema. now stamps accepted deltas; nil
// means time.Now.
func NewValidator(now func() time.Time) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("envelope.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{schema: schema, now: now}, nil
}

type envelope struct {
	Action  *string        `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Validate extracts and checks the action envelope in body and returns the
// delta it describes, attributed to identity.
func (v *Validator) Validate(body, identity string) (inbox.Delta, error) {
	text, ok := ExtractJSON(body)
	if !ok {
		return inbox.Delta{}, reject(CodeNoJSON, "no JSON found in issue body")
	}

	// jsonschema needs json.Number handling, so parse once for the schema
	// check and once into the typed envelope.
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return inbox.Delta{}, reject(CodeInvalidJSON, "invalid JSON in issue body: %v", err)
	}
	obj, isObject := parsed.(map[string]any)
	if !isObject {
		return inbox.Delta{}, reject(CodeInvalidEnvelope, "expected a JSON object, got %T", parsed)
	}
	if _, ok := obj["action"]; !ok {
		return inbox.Delta{}, reject(CodeMissingAction, "missing 'action' field")
	}
	if err := v.schema.Validate(parsed); err != nil {
		return inbox.Delta{}, reject(CodeInvalidEnvelope, "envelope does not match schema: %v", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return inbox.Delta{}, reject(CodeInvalidJSON, "invalid JSON in issue body: %v", err)
	}
	action := inbox.Action(*env.Action)
	if !action.Valid() {
		return inbox.Delta{}, reject(CodeUnknownAction, "unknown action: %s", action)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	for _, field := range RequiredFields[action] {
		if _, ok := env.Payload[field]; !ok {
			re := reject(CodeMissingField, "missing required field: payload.%s", field)
			re.Field = field
			return inbox.Delta{}, re
		}
	}

	if err := checkIdentity(identity); err != nil {
		return inbox.Delta{}, err
	}

	return inbox.Delta{
		Action:    action,
		AgentID:   identity,
		Timestamp: state.Timestamp(v.now()),
		Payload:   env.Payload,
	}, nil
}

// checkIdentity rejects identities that cannot safely prefix a queue id.
func checkIdentity(identity string) error {
	if identity == "" || identity == "." || identity == ".." ||
		strings.ContainsAny(identity, "/\\\x00") || strings.HasPrefix(identity, ".") {
		return reject(CodeInvalidIdentity, "invalid producer identity %q", identity)
	}
	return nil
}

// Accept validates body and writes the resulting delta to q. It returns the
// queue id of the new delta. Nothing is written on rejection.
func (v *Validator) Accept(ctx context.Context, q inbox.Queue, body, identity string) (string, inbox.Delta, error) {
	d, err := v.Validate(body, identity)
	if err != nil {
		return "", inbox.Delta{}, err
	}
	id, err := q.Put(ctx, d)
	if err != nil {
		return "", inbox.Delta{}, fmt.Errorf("write delta: %w", err)
	}
	return id, d, nil
}
