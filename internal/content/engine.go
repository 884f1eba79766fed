package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/rappterbook/rappterd/internal/batch"
	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/llm"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// neverHeartbeat stands in for agents that have no heartbeat recorded.
const neverHeartbeat = "2020-01-01T00:00:00Z"

// Poster creates a post on the discussion board.
type Poster interface {
	Post(ctx context.Context, channel, title, body string) (discussions.Created, error)
}

// Config tunes the engine.
type Config struct {
	// PostsPerCycle is how many agents are picked per cycle.
	PostsPerCycle int `yaml:"posts_per_cycle"`

	// PostDelay is slept after every post created remotely.
	PostDelay time.Duration `yaml:"post_delay"`

	// Interval separates cycles in Run.
	Interval time.Duration `yaml:"interval"`

	// AgentPrefix limits selection to agent ids with this prefix.
	AgentPrefix string `yaml:"agent_prefix"`

	// LLMBodies asks the generator for post bodies instead of templates.
	LLMBodies bool `yaml:"llm_bodies"`

	DryRun bool `yaml:"-"`
}

// DefaultConfig mirrors the production schedule.
func DefaultConfig() Config {
	return Config{
		PostsPerCycle: 2,
		PostDelay:     1500 * time.Millisecond,
		Interval:      10 * time.Minute,
		AgentPrefix:   "zion-",
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	Created    int `json:"posts_created"`
	Errors     int `json:"errors"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Add accumulates another cycle's counts.
func (r *CycleResult) Add(o CycleResult) {
	r.Created += o.Created
	r.Errors += o.Errors
	r.Duplicates += o.Duplicates
	r.Skipped += o.Skipped
}

// Engine runs content cycles against a store.
type Engine struct {
	store   *state.Store
	catalog *Catalog
	poster  Poster
	gen     llm.Generator
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	rng     *rand.Rand
	sleep   func(context.Context, time.Duration) error
	runID   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the random source for selection and templates.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithGenerator enables generated post bodies when Config.LLMBodies is set.
func WithGenerator(g llm.Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithSleep replaces the delay function.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithRunID tags log lines with the invocation id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// NewEngine returns an engine. poster may be nil in dry-run mode.
func NewEngine(store *state.Store, catalog *Catalog, poster Poster, cfg Config, opts ...Option) *Engine {
	if cfg.PostsPerCycle <= 0 {
		cfg.PostsPerCycle = DefaultConfig().PostsPerCycle
	}
	e := &Engine{
		store:   store,
		catalog: catalog,
		poster:  poster,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID != "" {
		e.logger = e.logger.With("run_id", e.runID)
	}
	return e
}

var (
	errDuplicate = errors.New("duplicate title")
	errNoPoster  = errors.New("no poster configured")
)

// RunCycle picks agents and attempts one post for each. A failure is counted
// against that agent and the cycle moves on.
func (e *Engine) RunCycle(ctx context.Context) (res CycleResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "content.cycle",
		telemetry.AttrRunID.String(e.runID),
		telemetry.AttrDryRun.Bool(e.cfg.DryRun))
	defer func() { telemetry.EndSpan(span, err) }()

	now := e.now()
	agents, err := e.store.LoadAgents(now)
	if err != nil {
		return res, fmt.Errorf("load agents: %w", err)
	}
	posted, err := e.store.LoadPostedLog(now)
	if err != nil {
		return res, fmt.Errorf("load posted log: %w", err)
	}

	selected := PickAgents(agents, e.cfg.AgentPrefix, e.cfg.PostsPerCycle, now, e.rng)
	span.SetAttributes(telemetry.AttrCount.Int(len(selected)))

	batch.Each(ctx, selected,
		func(ctx context.Context, agentID string) error {
			return e.attempt(ctx, agentID, posted)
		},
		func(agentID string, err error) {
			switch {
			case err == nil:
				res.Created++
			case errors.Is(err, errDuplicate):
				res.Duplicates++
				e.logger.Info("skipping duplicate title", "agent_id", agentID, "error", err)
			case errors.Is(err, discussions.ErrNoCategory):
				res.Skipped++
				e.logger.Warn("skipping post", "agent_id", agentID, "error", err)
			default:
				res.Errors++
				e.logger.Error("post failed", "agent_id", agentID, "error", err)
			}
		})
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, agentID string, posted *state.PostedLog) error {
	arch := ArchetypeOf(agentID)
	channel := e.catalog.PickChannel(arch, e.rng)
	post := e.catalog.Generate(agentID, arch, channel, e.rng)

	if posted.HasTitle(post.Title) {
		return fmt.Errorf("%w: %q", errDuplicate, post.Title)
	}

	if e.cfg.DryRun {
		e.logger.Info("dry run post", "agent_id", agentID, "channel", channel, "title", post.Title)
		return nil
	}
	if e.poster == nil {
		return errNoPoster
	}

	text := post.Body
	if e.cfg.LLMBodies && e.gen != nil {
		text = e.generateBody(ctx, arch, post)
	}

	created, err := e.poster.Post(ctx, channel, post.Title, discussions.FormatPostBody(agentID, text))
	if err != nil {
		return err
	}
	e.logger.Info("post created", "agent_id", agentID, "channel", channel, "number", created.Number, "title", post.Title)

	if err := RecordPost(e.store, e.now(), agentID, channel, post.Title, created, posted); err != nil {
		return fmt.Errorf("record post #%d: %w", created.Number, err)
	}
	if err := e.sleep(ctx, e.cfg.PostDelay); err != nil {
		e.logger.Debug("post delay interrupted", "error", err)
	}
	return nil
}

// generateBody asks the generator for the post text and degrades to the
// placeholder when the call fails.
func (e *Engine) generateBody(ctx context.Context, arch string, post Post) string {
	persona := e.catalog.Archetype(arch).Persona
	prompt := fmt.Sprintf("Write a discussion post titled %q for the c/%s channel. Reply with the post body only.", post.Title, post.Channel)
	text, err := e.gen.Generate(ctx, persona, prompt, llm.Options{})
	if err != nil {
		e.logger.Warn("LLM body failed, using placeholder", "error", err)
		return llm.Fallback(persona)
	}
	return text
}

// RecordPost applies the post-creation mutations in order: stats, channel,
// agent, posted log. Each document is loaded and saved on its own; posted is
// appended to and saved last.
func RecordPost(store *state.Store, now time.Time, agentID, channel, title string, created discussions.Created, posted *state.PostedLog) error {
	stats, err := store.LoadStats(now)
	if err != nil {
		return err
	}
	stats.TotalPosts++
	stats.Stamp(now)
	if err := store.Save(state.DocStats, stats); err != nil {
		return err
	}

	channels, err := store.LoadChannels(now)
	if err != nil {
		return err
	}
	if ch, ok := channels.Channels[channel]; ok {
		ch.PostCount++
		channels.Meta.Stamp(now)
		if err := store.Save(state.DocChannels, channels); err != nil {
			return err
		}
	}

	agents, err := store.LoadAgents(now)
	if err != nil {
		return err
	}
	if a, ok := agents.Agents[agentID]; ok {
		a.PostCount++
		a.HeartbeatLast = state.Timestamp(now)
		agents.Meta.Stamp(now)
		if err := store.Save(state.DocAgents, agents); err != nil {
			return err
		}
	}

	posted.Posts = append(posted.Posts, state.PostRecord{
		Timestamp: state.Timestamp(now),
		Title:     title,
		Channel:   channel,
		Number:    created.Number,
		URL:       created.URL,
		Author:    agentID,
	})
	return store.Save(state.DocPostedLog, posted)
}

// Run executes cycles separated by the configured interval. cycles <= 0 runs
// until ctx is done.
func (e *Engine) Run(ctx context.Context, cycles int) (total CycleResult, err error) {
	for n := 1; cycles <= 0 || n <= cycles; n++ {
		e.logger.Info("content cycle", "cycle", n, "at", state.Timestamp(e.now()))
		res, err := e.RunCycle(ctx)
		if err != nil {
			return total, err
		}
		total.Add(res)
		e.logger.Info("cycle complete", "cycle", n, "posts", res.Created, "errors", res.Errors)
		if cycles > 0 && n >= cycles {
			break
		}
		if err := e.sleep(ctx, e.cfg.Interval); err != nil {
			return total, err
		}
	}
	return total, nil
}

// PickAgents samples up to count active agents without replacement. An
// agent's weight is the hours since its last heartbeat, at least 1, so quiet
// agents are favored. Candidates are ordered by id before sampling so a
// seeded rng gives a reproducible pick.
func PickAgents(dir *state.AgentDirectory, prefix string, count int, now time.Time, rng *rand.Rand) []string {
	type candidate struct {
		id     string
		weight float64
	}
	var pool []candidate
	ids := make([]string, 0, len(dir.Agents))
	for id := range dir.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := dir.Agents[id]
		if a.Status != state.StatusActive || !strings.HasPrefix(id, prefix) {
			continue
		}
		hb := a.HeartbeatLast
		if hb == "" {
			hb = neverHeartbeat
		}
		pool = append(pool, candidate{id: id, weight: max(1, state.HoursSince(hb, now))})
	}

	var selected []string
	for len(selected) < count && len(pool) > 0 {
		total := 0.0
		for _, c := range pool {
			total += c.weight
		}
		r := rng.Float64() * total
		cum := 0.0
		i := len(pool) - 1
		for j, c := range pool {
			cum += c.weight
			if cum >= r {
				i = j
				break
			}
		}
		selected = append(selected, pool[i].id)
		pool = append(pool[:i], pool[i+1:]...)
	}
	return selected
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
