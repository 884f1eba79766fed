package harness

import (
	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/reconciler"
	"github.com/rappterbook/rappterd/internal/state"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Drain is the reconciler's report.
	Drain reconciler.Result `json:"drain"`

	// Documents holds every document present after the drain, decoded as
	// generic JSON and keyed by name.
	Documents map[string]any `json:"documents"`

	// Changes is the change log after the drain.
	Changes []state.Change `json:"changes"`

	// Pending counts deltas still queued.
	Pending int `json:"pending"`

	// DeadLetters holds the recorded dead letters.
	DeadLetters []inbox.DeadLetter `json:"dead_letters"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Documents: make(map[string]any),
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
