package intake

import (
	"encoding/json"
	"io"
)

// UnknownIdentity attributes events whose author is missing.
const UnknownIdentity = "unknown"

// Event is the subset of an issue webhook payload the validator reads.
type Event struct {
	Issue struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"issue"`
}

// Identity returns the event author's login, or UnknownIdentity.
func (e Event) Identity() string {
	if e.Issue.User.Login == "" {
		return UnknownIdentity
	}
	return e.Issue.User.Login
}

// ReadEvent decodes an event from r.
func ReadEvent(r io.Reader) (Event, error) {
	var e Event
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return Event{}, reject(CodeInvalidJSON, "invalid JSON input: %v", err)
	}
	return e, nil
}
