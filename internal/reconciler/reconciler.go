// Package reconciler drains the delta queue into the document store.
//
// A drain loads agents, channels, pokes, changes and stats, applies every
// pending delta in id order through a per-action handler, prunes the change
// log, saves the five documents and only then removes the consumed deltas.
// A crash before the save leaves every delta queued; a crash between the save
// and the removals re-applies those deltas on the next run, where handlers
// either conflict (register, create_channel) or converge (heartbeat,
// update_profile). Only pokes can be duplicated.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rappterbook/rappterd/internal/batch"
	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// DefaultRetention is how long change log entries are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Result summarizes one drain.
type Result struct {
	// Processed counts deltas that applied and produced a change entry.
	Processed int `json:"processed"`

	// Errors holds one message per delta that did not apply.
	Errors []string `json:"errors"`

	// DeadLettered counts deltas copied to the dead-letter record.
	DeadLettered int `json:"dead_lettered"`

	// Pruned counts change log entries dropped by retention.
	Pruned int `json:"pruned"`
}

// Summary is the one-line run report.
func (r Result) Summary() string {
	return fmt.Sprintf("Processed %d deltas", r.Processed)
}

// Reconciler applies queued deltas to the document store.
type Reconciler struct {
	store     *state.Store
	queue     inbox.Queue
	logger    *slog.Logger
	now       func() time.Time
	runID     string
	retention time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithRunID tags log lines and dead letters with the invocation id.
func WithRunID(id string) Option {
	return func(r *Reconciler) { r.runID = id }
}

// WithRetention overrides the change log window.
func WithRetention(d time.Duration) Option {
	return func(r *Reconciler) { r.retention = d }
}

// New returns a reconciler over store and queue.
func New(store *state.Store, queue inbox.Queue, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		queue:     queue,
		logger:    slog.Default(),
		now:       time.Now,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID != "" {
		r.logger = r.logger.With("run_id", r.runID)
	}
	return r
}

func (r *Reconciler) load(now time.Time) (*documents, error) {
	var (
		docs documents
		err  error
	)
	if docs.agents, err = r.store.LoadAgents(now); err != nil {
		return nil, err
	}
	if docs.channels, err = r.store.LoadChannels(now); err != nil {
		return nil, err
	}
	if docs.pokes, err = r.store.LoadPokes(now); err != nil {
		return nil, err
	}
	if docs.changes, err = r.store.LoadChanges(now); err != nil {
		return nil, err
	}
	if docs.stats, err = r.store.LoadStats(now); err != nil {
		return nil, err
	}
	return &docs, nil
}

// save writes the five documents. The _meta counts are recomputed first so
// a count that drifted before this drain is not written back.
func (r *Reconciler) save(docs *documents) error {
	docs.agents.Recount()
	docs.channels.Recount()
	docs.pokes.Recount()

	saves := []struct {
		name state.Name
		doc  any
	}{
		{state.DocAgents, docs.agents},
		{state.DocChannels, docs.channels},
		{state.DocPokes, docs.pokes},
		{state.DocChanges, docs.changes},
		{state.DocStats, docs.stats},
	}
	for _, s := range saves {
		if err := r.store.Save(s.name, s.doc); err != nil {
			return err
		}
	}
	return nil
}

// Drain applies every pending delta. The returned error is reserved for
// setup and persistence failures; per-delta failures are reported in the
// Result and never abort the drain.
func (r *Reconciler) Drain(ctx context.Context) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "reconciler.drain", telemetry.AttrRunID.String(r.runID))
	defer func() { telemetry.EndSpan(span, err) }()

	res.Errors = []string{}
	now := r.now()

	docs, err := r.load(now)
	if err != nil {
		return res, fmt.Errorf("load documents: %w", err)
	}

	ids, err := r.queue.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list deltas: %w", err)
	}
	if len(ids) == 0 {
		r.logger.Info(res.Summary())
		return res, nil
	}

	raw := make(map[string][]byte, len(ids))
	var consumed []string

	attempt := func(ctx context.Context, id string) error {
		data, err := r.queue.Read(ctx, id)
		if err != nil {
			return err
		}
		raw[id] = data
		d, err := inbox.Decode(data)
		if err != nil {
			return err
		}
		return apply(d, docs, now)
	}

	record := func(id string, err error) {
		switch {
		case err == nil:
			res.Processed++
			consumed = append(consumed, id)
		case errors.Is(err, inbox.ErrNotFound):
			r.logger.Warn("delta vanished before apply", "file", id)
		case IsConflict(err):
			res.Errors = append(res.Errors, err.Error())
			r.logger.Warn("delta rejected", "file", id, "error", err)
			consumed = append(consumed, id)
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
			r.logger.Error("delta failed", "file", id, "error", err)
			if dlErr := r.deadLetter(ctx, id, raw[id], err, now); dlErr != nil {
				r.logger.Error("dead letter failed, delta kept", "file", id, "error", dlErr)
				return
			}
			res.DeadLettered++
			consumed = append(consumed, id)
		}
	}

	report := batch.Each(ctx, ids, attempt, record)
	span.SetAttributes(telemetry.AttrCount.Int(report.Attempted))

	res.Pruned = docs.changes.Prune(now, r.retention)
	docs.stats.Stamp(now)

	if err := r.save(docs); err != nil {
		return res, fmt.Errorf("save documents: %w", err)
	}

	// The documents are saved; finish consuming even if ctx is done.
	removeCtx := context.WithoutCancel(ctx)
	for _, id := range consumed {
		if err := r.queue.Remove(removeCtx, id); err != nil {
			r.logger.Error("remove consumed delta", "file", id, "error", err)
		}
	}

	r.logger.Info(res.Summary(), "errors", len(res.Errors), "dead_lettered", res.DeadLettered, "pruned", res.Pruned)
	return res, ctx.Err()
}

func (r *Reconciler) deadLetter(ctx context.Context, id string, data []byte, cause error, now time.Time) error {
	return r.queue.DeadLetter(ctx, inbox.DeadLetter{
		DeltaID:    id,
		Reason:     cause.Error(),
		Content:    string(data),
		RecordedAt: state.Timestamp(now),
		RunID:      r.runID,
	})
}
