package reconciler

import (
	"errors"
	"fmt"

	"github.com/rappterbook/rappterd/internal/inbox"
)

// ConflictError is a business-rule failure inside a handler: the delta is
// well formed but cannot apply to the current state (duplicate
// registration, unknown agent, existing channel). The delta is consumed and
// never retried.
type ConflictError struct {
	Action  inbox.Action
	AgentID string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func conflict(d inbox.Delta, format string, args ...any) *ConflictError {
	return &ConflictError{Action: d.Action, AgentID: d.AgentID, Message: fmt.Sprintf(format, args...)}
}
