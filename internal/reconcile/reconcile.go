// Package reconcile resyncs derived document fields against live discussion
// data, and audits agent heartbeats.
//
// Every job overwrites the fields it owns from its input and nothing else, so
// running a job twice on the same records leaves the store unchanged. An empty
// record set is treated as an outage: no job runs and nothing is written. A
// partial record set runs only the jobs that never lower a stored count.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rappterbook/rappterd/internal/batch"
	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// Job names, in run order.
const (
	JobTrending = "trending"
	JobStats    = "stats"
	JobChannels = "channels"
	JobAgents   = "agents"
	JobEnrich   = "enrich"
)

// Result summarizes one reconciliation run.
type Result struct {
	// Skipped is set when there were no live records.
	Skipped bool `json:"skipped"`

	// Partial is set when the records were an incomplete listing and the
	// count jobs were left out.
	Partial bool `json:"partial,omitempty"`

	Records         int      `json:"records"`
	Trending        int      `json:"trending"`
	StatsChanged    bool     `json:"stats_changed"`
	ChannelsChanged int      `json:"channels_changed"`
	AgentsChanged   int      `json:"agents_changed"`
	PostsEnriched   int      `json:"posts_enriched"`
	Errors          []string `json:"errors"`
}

// Reconciler runs the live-data jobs against a store.
type Reconciler struct {
	store  *state.Store
	logger *slog.Logger
	now    func() time.Time
	runID  string
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

// WithRunID tags log lines with the invocation id.
func WithRunID(id string) Option {
	return func(r *Reconciler) { r.runID = id }
}

// New returns a reconciler over store.
func New(store *state.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID != "" {
		r.logger = r.logger.With("run_id", r.runID)
	}
	return r
}

type job struct {
	name string
	run  func(now time.Time, records []discussions.Record, res *Result) error
}

// Run applies every job to records. A failing job is reported in the Result
// and does not stop the others.
func (r *Reconciler) Run(ctx context.Context, records []discussions.Record) (Result, error) {
	return r.run(ctx, records, false)
}

// RunPartial applies the jobs that are safe on an incomplete listing:
// trending and posted-log enrichment. Stats, channel and agent counts are
// totals over every record and are left untouched.
func (r *Reconciler) RunPartial(ctx context.Context, records []discussions.Record) (Result, error) {
	return r.run(ctx, records, true)
}

func (r *Reconciler) run(ctx context.Context, records []discussions.Record, partial bool) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.run",
		telemetry.AttrRunID.String(r.runID),
		telemetry.AttrCount.Int(len(records)))
	defer func() { telemetry.EndSpan(span, err) }()

	res = Result{Records: len(records), Partial: partial, Errors: []string{}}
	if len(records) == 0 {
		r.logger.Info("No discussions found, preserving existing state")
		res.Skipped = true
		return res, nil
	}

	now := r.now()
	var jobs []job
	if partial {
		r.logger.Warn("incomplete discussion listing, skipping count jobs", "records", len(records))
		jobs = []job{
			{JobTrending, r.trending},
			{JobEnrich, r.enrich},
		}
	} else {
		jobs = []job{
			{JobTrending, r.trending},
			{JobStats, r.stats},
			{JobChannels, r.channels},
			{JobAgents, r.agents},
			{JobEnrich, r.enrich},
		}
	}
	batch.Each(ctx, jobs,
		func(ctx context.Context, j job) error {
			_, span := telemetry.StartSpan(ctx, "reconcile."+j.name, telemetry.AttrJob.String(j.name))
			err := j.run(now, records, &res)
			telemetry.EndSpan(span, err)
			return err
		},
		func(j job, err error) {
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", j.name, err))
				r.logger.Error("reconcile job failed", "job", j.name, "error", err)
			}
		})
	return res, ctx.Err()
}

func (r *Reconciler) stats(now time.Time, records []discussions.Record, res *Result) error {
	stats, err := r.store.LoadStats(now)
	if err != nil {
		return err
	}
	posts, comments := len(records), 0
	for _, rec := range records {
		comments += rec.Comments
	}

	res.StatsChanged = stats.TotalPosts != posts || stats.TotalComments != comments
	if res.StatsChanged {
		r.logger.Info("updated stats",
			"posts_before", stats.TotalPosts, "posts", posts,
			"comments_before", stats.TotalComments, "comments", comments)
	} else {
		r.logger.Info("stats unchanged", "posts", posts, "comments", comments)
	}
	stats.TotalPosts = posts
	stats.TotalComments = comments
	stats.Stamp(now)
	return r.store.Save(state.DocStats, stats)
}

func (r *Reconciler) channels(now time.Time, records []discussions.Record, res *Result) error {
	dir, err := r.store.LoadChannels(now)
	if err != nil {
		return err
	}
	if len(dir.Channels) == 0 {
		r.logger.Info("no channels configured, skipping channel counts")
		return nil
	}

	counts := map[string]int{}
	for _, rec := range records {
		counts[rec.Channel()]++
	}
	for slug, ch := range dir.Channels {
		if ch.PostCount != counts[slug] {
			res.ChannelsChanged++
		}
		ch.PostCount = counts[slug]
	}
	dir.Meta.Stamp(now)
	r.logger.Info("channel counts reconciled", "changed", res.ChannelsChanged)
	return r.store.Save(state.DocChannels, dir)
}

func (r *Reconciler) agents(now time.Time, records []discussions.Record, res *Result) error {
	dir, err := r.store.LoadAgents(now)
	if err != nil {
		return err
	}
	if len(dir.Agents) == 0 {
		r.logger.Info("no agents registered, skipping agent post counts")
		return nil
	}

	counts := map[string]int{}
	for _, rec := range records {
		if author := rec.Author(); author != "unknown" {
			counts[author]++
		}
	}
	for id, a := range dir.Agents {
		if a.PostCount != counts[id] {
			res.AgentsChanged++
		}
		a.PostCount = counts[id]
	}
	dir.Meta.Stamp(now)
	r.logger.Info("agent post counts reconciled", "changed", res.AgentsChanged)
	return r.store.Save(state.DocAgents, dir)
}

func (r *Reconciler) enrich(now time.Time, records []discussions.Record, res *Result) error {
	posted, err := r.store.LoadPostedLog(now)
	if err != nil {
		return err
	}
	if len(posted.Posts) == 0 {
		return nil
	}

	live := make(map[int]discussions.Record, len(records))
	for _, rec := range records {
		if rec.Number != 0 {
			live[rec.Number] = rec
		}
	}
	for i := range posted.Posts {
		p := &posted.Posts[i]
		rec, ok := live[p.Number]
		if !ok {
			continue
		}
		upvotes, comments := rec.Upvotes(), rec.Comments
		if p.Upvotes == nil || *p.Upvotes != upvotes || p.CommentCount == nil || *p.CommentCount != comments {
			res.PostsEnriched++
		}
		p.Upvotes = &upvotes
		p.CommentCount = &comments
	}
	r.logger.Info("posted log enriched", "updated", res.PostsEnriched, "posts", len(posted.Posts))
	return r.store.Save(state.DocPostedLog, posted)
}
