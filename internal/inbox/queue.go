package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rappterbook/rappterd/internal/state"
)

// ErrNotFound is returned when a queue entry does not exist.
var ErrNotFound = errors.New("delta not found")

// maxSuffix bounds collision disambiguation in Put.
const maxSuffix = 999

// Queue is the delta queue contract.
type Queue interface {
	// Put stores a delta and returns its id. When the delta's natural id is
	// taken, a numbered suffix is appended instead of overwriting.
	Put(ctx context.Context, d Delta) (string, error)

	// List returns the ids of all pending deltas in lexical order.
	List(ctx context.Context) ([]string, error)

	// Read returns the stored bytes of a delta.
	Read(ctx context.Context, id string) ([]byte, error)

	// Remove deletes a delta. Removing a missing id is not an error.
	Remove(ctx context.Context, id string) error

	// DeadLetter records a delta that failed unexpectedly.
	DeadLetter(ctx context.Context, dl DeadLetter) error

	// DeadLetters returns all recorded dead letters, oldest first.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)

	Close() error
}

// DeadLetter is the record kept for a delta that could not be applied.
type DeadLetter struct {
	ID         string `json:"id"`
	DeltaID    string `json:"delta_id"`
	Reason     string `json:"reason"`
	Content    string `json:"content"`
	RecordedAt string `json:"recorded_at"`
	RunID      string `json:"run_id,omitempty"`
}

// Watcher is implemented by queues that can signal new arrivals.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// candidateID returns the id to try for attempt n of Put. Attempt 1 is the
// natural id; later attempts insert _NNN before the extension so they sort
// after it.
func candidateID(base string, n int) string {
	if n <= 1 {
		return base
	}
	stem := strings.TrimSuffix(base, ".json")
	return fmt.Sprintf("%s_%03d.json", stem, n)
}

func errCollisions(base string) error {
	return fmt.Errorf("put %s: %d colliding deltas", base, maxSuffix)
}

// stampDeadLetter fills the generated fields of a dead letter.
func stampDeadLetter(dl *DeadLetter) {
	if dl.ID == "" {
		dl.ID = ulid.Make().String()
	}
	if dl.RecordedAt == "" {
		dl.RecordedAt = state.Timestamp(time.Now())
	}
}
