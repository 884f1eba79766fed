package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rappterbook/rappterd/internal/state"
)

// DeadLettersFile is the dead-letter document written next to the inbox
// directory.
const DeadLettersFile = "dead_letters.json"

// DirQueue stores one delta per file in a directory.
type DirQueue struct {
	dir         string
	deadLetters string
	logger      *slog.Logger
}

var _ Queue = (*DirQueue)(nil)
var _ Watcher = (*DirQueue)(nil)

// NewDirQueue opens a directory-backed queue, creating the directory if
// needed. Dead letters are kept in dead_letters.json in the parent directory
// so they are never mistaken for pending deltas.
func NewDirQueue(dir string) (*DirQueue, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	clean := filepath.Clean(dir)
	return &DirQueue{
		dir:         clean,
		deadLetters: filepath.Join(filepath.Dir(clean), DeadLettersFile),
		logger:      slog.Default(),
	}, nil
}

// SetLogger replaces the queue's logger.
func (q *DirQueue) SetLogger(logger *slog.Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// Dir returns the inbox directory.
func (q *DirQueue) Dir() string {
	return q.dir
}

// Put writes the delta to a temporary file and links it into place, so the
// target name is claimed atomically and never overwritten.
func (q *DirQueue) Put(ctx context.Context, d Delta) (string, error) {
	data, err := Encode(d)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(q.dir, ".put-*.tmp")
	if err != nil {
		return "", fmt.Errorf("put delta: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("put delta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("put delta: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("put delta: %w", err)
	}

	base := d.FileName()
	for n := 1; n <= maxSuffix; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id := candidateID(base, n)
		err := os.Link(tmpName, filepath.Join(q.dir, id))
		if err == nil {
			if n > 1 {
				q.logger.Warn("delta id collision, stored with suffix", "base", base, "id", id)
			}
			return id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("put %s: %w", id, err)
		}
	}
	return "", errCollisions(base)
}

// List returns the pending delta files in lexical order. Hidden files and
// files without a .json extension are ignored.
func (q *DirQueue) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !isDeltaFile(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func isDeltaFile(name string) bool {
	return !strings.HasPrefix(name, ".") && filepath.Ext(name) == ".json"
}

// Read returns the raw contents of a delta file.
func (q *DirQueue) Read(ctx context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, filepath.Base(id)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return data, nil
}

// Remove deletes a delta file.
func (q *DirQueue) Remove(ctx context.Context, id string) error {
	err := os.Remove(filepath.Join(q.dir, filepath.Base(id)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

type deadLetterDoc struct {
	DeadLetters []DeadLetter `json:"dead_letters"`
	Meta        state.Meta   `json:"_meta"`
}

func (q *DirQueue) loadDeadLetters() (*deadLetterDoc, error) {
	doc := &deadLetterDoc{}
	data, err := os.ReadFile(q.deadLetters)
	if errors.Is(err, os.ErrNotExist) {
		doc.DeadLetters = []DeadLetter{}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode dead letters: %w", err)
	}
	if doc.DeadLetters == nil {
		doc.DeadLetters = []DeadLetter{}
	}
	return doc, nil
}

// DeadLetter appends a record to dead_letters.json.
func (q *DirQueue) DeadLetter(ctx context.Context, dl DeadLetter) error {
	stampDeadLetter(&dl)
	doc, err := q.loadDeadLetters()
	if err != nil {
		return err
	}
	doc.DeadLetters = append(doc.DeadLetters, dl)
	doc.Meta.Count = len(doc.DeadLetters)
	doc.Meta.LastUpdated = dl.RecordedAt
	if err := state.WriteJSON(q.deadLetters, doc); err != nil {
		return fmt.Errorf("save dead letters: %w", err)
	}
	return nil
}

// DeadLetters returns the recorded dead letters.
func (q *DirQueue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	doc, err := q.loadDeadLetters()
	if err != nil {
		return nil, err
	}
	return doc.DeadLetters, nil
}

// Close is a no-op for directory queues.
func (q *DirQueue) Close() error {
	return nil
}

// Watch signals on the returned channel whenever a delta file appears in
// the inbox. Bursts are coalesced. The channel is closed when ctx ends.
func (q *DirQueue) Watch(ctx context.Context) (<-chan struct{}, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new inbox watcher: %w", err)
	}
	if err := fsw.Add(q.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", q.dir, err)
	}

	events := make(chan struct{}, 1)
	go func() {
		defer func() {
			_ = fsw.Close()
			close(events)
		}()

		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				if !isDeltaFile(filepath.Base(ev.Name)) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
				}
			case <-timerC:
				select {
				case events <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				q.logger.Error("inbox watcher error", "error", err)
			}
		}
	}()
	return events, nil
}

const watchDebounce = 200 * time.Millisecond
