package state

import (
	"fmt"
	"time"
)

// TimeLayout is the timestamp format written into every document:
// ISO-8601, UTC, 'Z'-suffixed, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// naiveLayout accepts timestamps written without a zone designator.
// They are interpreted as UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// Timestamp formats t for storage.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTimestamp parses a stored timestamp. It accepts RFC 3339 with or
// without fractional seconds, and zone-less timestamps (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// HoursSince returns the non-negative number of hours between ts and now.
// Unparseable timestamps count as very old (999 hours).
func HoursSince(ts string, now time.Time) float64 {
	t, err := ParseTimestamp(ts)
	if err != nil {
		return 999
	}
	h := now.Sub(t).Hours()
	if h < 0 {
		return 0
	}
	return h
}
