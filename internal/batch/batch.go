// Package batch runs best-effort loops: every item is attempted, a failure is
// recorded against that item, and the loop moves on.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
)

// PanicError wraps a value recovered from a panicking attempt.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Report summarizes one Each run.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Each calls attempt for every item in order and passes the outcome to
// record. A panic inside attempt is recovered and recorded as a *PanicError.
// Iteration stops early only when ctx is done; items not reached are neither
// attempted nor recorded.
func Each[T any](ctx context.Context, items []T, attempt func(context.Context, T) error, record func(T, error)) Report {
	var r Report
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		err := safeAttempt(ctx, item, attempt)
		r.Attempted++
		if err != nil {
			r.Failed++
		} else {
			r.Succeeded++
		}
		if record != nil {
			record(item, err)
		}
	}
	return r
}

func safeAttempt[T any](ctx context.Context, item T, attempt func(context.Context, T) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return attempt(ctx, item)
}
