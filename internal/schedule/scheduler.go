// Package schedule runs batch jobs on cron expressions. Jobs fire one at a
// time from a single loop, so two jobs never write the state directory at
// once.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/rappterbook/rappterd/internal/batch"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// JobFunc is one run-to-completion invocation.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	expr     string
	schedule cronlib.Schedule
	run      JobFunc
	next     time.Time
}

// Scheduler fires configured jobs when they are due.
type Scheduler struct {
	jobs     []*job
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithInterval sets how often due jobs are checked. Defaults to one minute.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// New binds each configured cron expression to its job in registry. Unknown
// job names and unparsable expressions are errors.
func New(specs map[string]string, registry map[string]JobFunc, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{logger: slog.Default(), now: time.Now, interval: time.Minute}
	for _, opt := range opts {
		opt(s)
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.now()
	for _, name := range names {
		run, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("schedule: unknown job %q", name)
		}
		sched, err := cronParser.Parse(specs[name])
		if err != nil {
			return nil, fmt.Errorf("schedule: job %q: %w", name, err)
		}
		s.jobs = append(s.jobs, &job{
			name:     name,
			expr:     specs[name],
			schedule: sched,
			run:      run,
			next:     sched.Next(now),
		})
	}
	return s, nil
}

// Next reports each job's next run time.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		out[j.name] = j.next
	}
	return out
}

// Tick runs every job due at now, in name order, and returns the names that
// ran. A failing job is logged and does not stop the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}

	var fired []string
	batch.Each(ctx, due,
		func(ctx context.Context, j *job) (err error) {
			ctx, span := telemetry.StartSpan(ctx, "schedule."+j.name, telemetry.AttrJob.String(j.name))
			defer func() { telemetry.EndSpan(span, err) }()
			return j.run(ctx)
		},
		func(j *job, err error) {
			fired = append(fired, j.name)
			j.next = j.schedule.Next(now)
			if err != nil {
				s.logger.Error("scheduled job failed", "job", j.name, "error", err, "next_run_at", j.next)
				return
			}
			s.logger.Info("scheduled job finished", "job", j.name, "next_run_at", j.next)
		})
	return fired
}

// Run checks for due jobs every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("schedule: no jobs configured")
	}
	for _, j := range s.jobs {
		s.logger.Info("job scheduled", "job", j.name, "cron", j.expr, "next_run_at", j.next)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx, s.now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
