package state

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

var definitions = map[Name]string{
	DocAgents:    "#Agents",
	DocChannels:  "#Channels",
	DocPokes:     "#Pokes",
	DocChanges:   "#Changes",
	DocStats:     "#Stats",
	DocPostedLog: "#PostedLog",
	DocTrending:  "#Trending",
	DocLLMUsage:  "#LLMUsage",
}

// Violation is one schema or invariant failure found in a persisted document.
type Violation struct {
	Document Name   `json:"document"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Document.File(), v.Message)
}

// Checker validates raw document bytes against the embedded CUE schema.
type Checker struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewChecker compiles the document schema.
func NewChecker() (*Checker, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Checker{ctx: ctx, schema: schema}, nil
}

// CheckDocument validates data as the named document. Besides the CUE shape
// it enforces that a directory's _meta.count equals the number of entries.
func (c *Checker) CheckDocument(name Name, data []byte) []Violation {
	def, ok := definitions[name]
	if !ok {
		return []Violation{{Document: name, Message: "unknown document"}}
	}

	value := c.ctx.CompileBytes(data, cue.Filename(name.File()))
	if err := value.Err(); err != nil {
		return []Violation{{Document: name, Message: fmt.Sprintf("parse: %v", err)}}
	}

	var violations []Violation
	unified := c.schema.LookupPath(cue.ParsePath(def)).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			violations = append(violations, Violation{Document: name, Message: e.Error()})
		}
	}
	return append(violations, countViolations(name, data)...)
}

func countViolations(name Name, data []byte) []Violation {
	var key string
	switch name {
	case DocAgents:
		key = "agents"
	case DocChannels:
		key = "channels"
	default:
		return nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	var entries map[string]json.RawMessage
	var meta Meta
	if err := json.Unmarshal(doc[key], &entries); err != nil {
		return nil
	}
	if err := json.Unmarshal(doc["_meta"], &meta); err != nil {
		return nil
	}
	if meta.Count != len(entries) {
		return []Violation{{
			Document: name,
			Message:  fmt.Sprintf("_meta.count is %d but %s has %d entries", meta.Count, key, len(entries)),
		}}
	}
	return nil
}

// Check validates every document present in the store. Missing documents
// are not violations; they load as their default shape.
func (s *Store) Check(c *Checker) ([]Violation, error) {
	var violations []Violation
	for _, name := range AllNames {
		data, err := os.ReadFile(s.Path(name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name.File(), err)
		}
		violations = append(violations, c.CheckDocument(name, data)...)
	}
	return violations, nil
}
