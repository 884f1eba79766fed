package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Target   string // document and path, when the assertion has one
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Target != "" {
		fmt.Fprintf(&buf, " %s", e.Target)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertField:
		return assertField(result, a)
	case AssertAbsent:
		return assertAbsent(result, a)
	case AssertCount:
		return assertCount(result, a)
	case AssertPending:
		return assertSize(a.Type, a.Count, result.Pending)
	case AssertDeadLetters:
		return assertSize(a.Type, a.Count, len(result.DeadLetters))
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertField(result *Result, a Assertion) error {
	actual, ok := Lookup(result.Documents[a.Document], a.Path)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Target:   target(a),
			Expected: fmt.Sprintf("%v", a.Equals),
			Actual:   "path not found",
		}
	}
	expected, err := normalize(a.Equals)
	if err != nil {
		return fmt.Errorf("normalize expected value: %w", err)
	}
	if !reflect.DeepEqual(expected, actual) {
		return &AssertionError{
			Type:     a.Type,
			Target:   target(a),
			Expected: fmt.Sprintf("%v (%T)", expected, expected),
			Actual:   fmt.Sprintf("%v (%T)", actual, actual),
		}
	}
	return nil
}

func assertAbsent(result *Result, a Assertion) error {
	if actual, ok := Lookup(result.Documents[a.Document], a.Path); ok {
		return &AssertionError{
			Type:     a.Type,
			Target:   target(a),
			Expected: "no value",
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertCount(result *Result, a Assertion) error {
	actual, ok := Lookup(result.Documents[a.Document], a.Path)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Target:   target(a),
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   "path not found",
		}
	}
	var n int
	switch v := actual.(type) {
	case map[string]any:
		n = len(v)
	case []any:
		n = len(v)
	default:
		return &AssertionError{
			Type:     a.Type,
			Target:   target(a),
			Expected: "an object or list",
			Actual:   fmt.Sprintf("%T", actual),
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Target:   target(a),
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   fmt.Sprintf("%d entries", n),
		}
	}
	return nil
}

func assertSize(kind string, want, got int) error {
	if want != got {
		return &AssertionError{
			Type:     kind,
			Expected: strconv.Itoa(want),
			Actual:   strconv.Itoa(got),
		}
	}
	return nil
}

func target(a Assertion) string {
	return a.Document + ":" + a.Path
}

// Lookup walks a decoded JSON value along a dotted path. Numeric segments
// index lists.
func Lookup(doc any, path string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// normalize round-trips v through JSON so YAML scalars compare equal to
// decoded document values.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
