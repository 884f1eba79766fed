package intake

import (
	"errors"
	"fmt"
)

// RejectionError explains why an inbound event did not become a delta.
type RejectionError struct {
	// Code identifies the rejection category.
	Code Code

	// Field names the offending payload field, for MISSING_FIELD.
	Field string

	// Message is a human-readable description.
	Message string
}

// Code categorizes rejections.
type Code string

const (
	// CodeNoJSON indicates the body holds neither a fenced block nor a
	// leading JSON object.
	CodeNoJSON Code = "NO_JSON_FOUND"

	// CodeInvalidJSON indicates the extracted text is not valid JSON.
	CodeInvalidJSON Code = "INVALID_JSON"

	// CodeInvalidEnvelope indicates the JSON is not an object of the
	// expected {action, payload} shape.
	CodeInvalidEnvelope Code = "INVALID_ENVELOPE"

	// CodeMissingAction indicates the envelope has no action.
	CodeMissingAction Code = "MISSING_ACTION"

	// CodeUnknownAction indicates the action is not one of the known five.
	CodeUnknownAction Code = "UNKNOWN_ACTION"

	// CodeMissingField indicates a required payload field is absent.
	CodeMissingField Code = "MISSING_FIELD"

	// CodeInvalidIdentity indicates the producing identity cannot name a
	// delta.
	CodeInvalidIdentity Code = "INVALID_IDENTITY"
)

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsRejection extracts a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRejection reports whether err is a rejection with the given code.
func IsRejection(err error, code Code) bool {
	re, ok := AsRejection(err)
	return ok && re.Code == code
}

func reject(code Code, format string, args ...any) *RejectionError {
	return &RejectionError{Code: code, Message: fmt.Sprintf(format, args...)}
}
