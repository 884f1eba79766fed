package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/reconciler"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/testutil"
)

// Harness holds one scenario's throwaway state directory and queue.
type Harness struct {
	dir    string
	store  *state.Store
	queue  inbox.Queue
	clock  *testutil.FixedClock
	logger *slog.Logger
}

// Run executes a scenario in a fresh temporary state directory and returns
// the result. The directory is removed before returning.
//
// Execution flow:
//  1. Seed the scenario's documents
//  2. Enqueue its deltas in order
//  3. Drain once with the clock fixed at scenario.Now
//  4. Collect documents, pending deltas and dead letters
//  5. Evaluate expect clauses and assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	now, err := state.ParseTimestamp(scenario.Now)
	if err != nil {
		return nil, fmt.Errorf("scenario now: %w", err)
	}

	root, err := os.MkdirTemp("", "rappter-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	defer os.RemoveAll(root)

	h, err := newHarness(filepath.Join(root, "state"), scenario.Queue, testutil.NewFixedClock(now))
	if err != nil {
		return nil, err
	}
	defer h.queue.Close()

	if err := h.seed(scenario.Documents); err != nil {
		return nil, fmt.Errorf("failed to seed documents: %w", err)
	}
	if err := h.enqueue(ctx, scenario.Deltas); err != nil {
		return nil, fmt.Errorf("failed to enqueue deltas: %w", err)
	}

	result := NewResult()
	r := reconciler.New(h.store, h.queue,
		reconciler.WithLogger(h.logger),
		reconciler.WithClock(h.clock.Now),
		reconciler.WithRunID("scenario-"+scenario.Name))
	result.Drain, err = r.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to collect state: %w", err)
	}

	for _, msg := range checkExpect(result.Drain, scenario.Expect) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(dir, backend string, clock *testutil.FixedClock) (*Harness, error) {
	store, err := state.Open(dir)
	if err != nil {
		return nil, err
	}

	var dsn string
	if backend == QueueSQLite {
		dsn = "sqlite://" + filepath.Join(dir, "inbox.db")
	}
	queue, err := inbox.Open(dsn, filepath.Join(dir, "inbox"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s queue: %w", backend, err)
	}

	return &Harness{
		dir:    dir,
		store:  store,
		queue:  queue,
		clock:  clock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// seed writes each document verbatim.
func (h *Harness) seed(docs map[string]map[string]any) error {
	for name, doc := range docs {
		if err := state.WriteJSON(h.store.Path(state.Name(name)), doc); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return nil
}

func (h *Harness) enqueue(ctx context.Context, steps []DeltaStep) error {
	for i, step := range steps {
		if _, err := h.queue.Put(ctx, step.Delta()); err != nil {
			return fmt.Errorf("deltas[%d]: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, name := range state.AllNames {
		if !h.store.Exists(name) {
			continue
		}
		data, err := os.ReadFile(h.store.Path(name))
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", name.File(), err)
		}
		result.Documents[string(name)] = doc
	}

	changes, err := h.store.LoadChanges(h.clock.Now())
	if err != nil {
		return err
	}
	result.Changes = changes.Changes

	pending, err := h.queue.List(ctx)
	if err != nil {
		return err
	}
	result.Pending = len(pending)

	result.DeadLetters, err = h.queue.DeadLetters(ctx)
	return err
}

func checkExpect(drain reconciler.Result, expect *ExpectClause) []string {
	if expect == nil {
		return nil
	}
	var errs []string
	check := func(label string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("expect %s: want %d, got %d", label, *want, got))
		}
	}
	check("processed", expect.Processed, drain.Processed)
	check("errors", expect.Errors, len(drain.Errors))
	check("dead_lettered", expect.DeadLettered, drain.DeadLettered)
	check("pruned", expect.Pruned, drain.Pruned)
	return errs
}
