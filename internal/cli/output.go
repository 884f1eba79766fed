package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation failure, rejected event, failed job, PII found, missing token
	ExitCommandError = 2 // Command error (bad flags, unreadable config, unknown job)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Configuration could not be loaded
	ErrCodeState       = "E003" // State directory or document error
	ErrCodeRejected    = "E004" // Inbound event rejected by the validator
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeRemote      = "E006" // Discussion board or LLM call failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeViolations  = "E008" // Schema violations or PII findings
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string
	Err     error // optional cause
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// itemLister is implemented by run results that carry a list worth printing
// under the summary line in text mode: per-delta errors, failed jobs,
// agents marked dormant.
type itemLister interface {
	Items() []string
}

// OutputFormatter writes a command's result as one JSON response or as a
// summary line followed by its items.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // progress lines; keeps JSON output on Writer clean
	Verbose   bool

	// RunID is stamped on JSON responses once the invocation has one.
	RunID string
}

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	RunID  string    `json:"run_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success reports a finished run. In text mode data's String form is the
// summary line and its Items, if any, follow one per line.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", RunID: f.RunID, Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	if l, ok := data.(itemLister); ok {
		for _, item := range l.Items() {
			fmt.Fprintf(f.Writer, "  - %s\n", item)
		}
	}
	return nil
}

// Error reports a failed run. Details are printed in text mode only when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			RunID:  f.RunID,
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Progress writes an intermediate line for long-running commands when
// verbose. It goes to ErrWriter when set so a JSON response stays parseable.
func (f *OutputFormatter) Progress(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
