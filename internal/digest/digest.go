// Package digest writes the weekly roundup: one curating agent reads the
// past week of discussions in its channels, summarizes them and posts the
// result. The research lead from the summary is appended to the agent's
// soul file under state/memory.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/rappterbook/rappterd/internal/content"
	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/llm"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// CuratorArchetypes are preferred when picking the digest author.
var CuratorArchetypes = []string{"curator", "archivist", "researcher"}

// ErrNoAgent is returned when no active agent can write the digest.
var ErrNoAgent = errors.New("no active agents found")

// Config tunes a digest run.
type Config struct {
	// Window is how far back discussions count.
	Window time.Duration `yaml:"window"`
	// Limit caps how many recent discussions are fetched.
	Limit int `yaml:"limit"`
	// Channel is where the digest is posted.
	Channel string `yaml:"channel"`

	Agent  string `yaml:"-"`
	DryRun bool   `yaml:"-"`
}

// DefaultConfig returns a seven-day digest of the latest 50 discussions,
// posted to c/digests.
func DefaultConfig() Config {
	return Config{Window: 7 * 24 * time.Hour, Limit: 50, Channel: "digests"}
}

// Source lists recent discussions.
type Source interface {
	FetchRecent(ctx context.Context, limit int) ([]discussions.Record, error)
}

// Result describes one digest run.
type Result struct {
	AgentID      string   `json:"agent_id"`
	Channels     []string `json:"channels"`
	InScope      int      `json:"in_scope"`
	Offline      bool     `json:"offline"`
	Title        string   `json:"title,omitempty"`
	Body         string   `json:"body,omitempty"`
	ResearchLead string   `json:"research_lead,omitempty"`
	Posted       bool     `json:"posted"`
	Number       int      `json:"number,omitempty"`
	URL          string   `json:"url,omitempty"`
	SoulUpdated  bool     `json:"soul_updated"`
}

// Writer produces and publishes digests.
type Writer struct {
	store  *state.Store
	cfg    Config
	source Source
	poster content.Poster
	gen    llm.Generator
	logger *slog.Logger
	now    func() time.Time
	rng    *rand.Rand
	runID  string
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithRand sets the random source for agent selection.
func WithRand(rng *rand.Rand) Option {
	return func(w *Writer) { w.rng = rng }
}

// WithSource reads live discussions instead of the posted log.
func WithSource(s Source) Option {
	return func(w *Writer) { w.source = s }
}

// WithPoster publishes the digest.
func WithPoster(p content.Poster) Option {
	return func(w *Writer) { w.poster = p }
}

// WithGenerator writes the digest with an LLM instead of the offline
// template.
func WithGenerator(g llm.Generator) Option {
	return func(w *Writer) { w.gen = g }
}

// WithRunID tags log lines with the invocation id.
func WithRunID(id string) Option {
	return func(w *Writer) { w.runID = id }
}

// New returns a Writer. Without a source, or in dry-run mode, the digest is
// built from the posted log and only previewed.
func New(store *state.Store, cfg Config, opts ...Option) *Writer {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	w := &Writer{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.runID != "" {
		w.logger = w.logger.With("run_id", w.runID)
	}
	return w
}

// Run picks the author, gathers the week's discussions and writes the
// digest. An empty week is not an error: nothing is generated or posted.
func (w *Writer) Run(ctx context.Context) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "digest.run", telemetry.AttrRunID.String(w.runID))
	defer func() {
		span.SetAttributes(telemetry.AttrCount.Int(res.InScope))
		telemetry.EndSpan(span, err)
	}()

	now := w.now()
	agents, err := w.store.LoadAgents(now)
	if err != nil {
		return res, err
	}
	id, agent, err := PickAgent(agents, w.cfg.Agent, w.rng)
	if err != nil {
		return res, err
	}
	if w.cfg.Agent != "" && id != w.cfg.Agent {
		w.logger.Warn("requested agent not found, picked another", "requested", w.cfg.Agent, "agent_id", id)
	}
	res.AgentID = id
	res.Channels = agent.SubscribedChannels
	res.Offline = w.cfg.DryRun || w.source == nil

	records, err := w.records(ctx, now, res.Offline)
	if err != nil {
		return res, err
	}
	records = InScope(records, agent.SubscribedChannels, now, w.cfg.Window)
	res.InScope = len(records)
	w.logger.Info("digest agent picked", "agent_id", id, "channels", strings.Join(agent.SubscribedChannels, ","), "in_scope", res.InScope)
	if len(records) == 0 {
		w.logger.Info("no discussions in window, nothing to digest")
		return res, nil
	}

	var d Digest
	if !res.Offline && w.gen != nil {
		d = w.generate(ctx, id, records, now)
	} else {
		d = Offline(records, w.knownChannels(now), now)
	}
	res.Title = Title(now)
	res.Body = fmt.Sprintf("*Weekly digest by **%s***\n\n---\n\n%s", id, d.Body)
	res.ResearchLead = d.ResearchLead

	if !res.Offline && w.poster != nil {
		if err := w.publish(ctx, now, &res); err != nil {
			return res, err
		}
	}

	if res.ResearchLead != "" {
		res.SoulUpdated, err = AppendResearchLead(SoulPath(w.store.Dir(), id), res.ResearchLead, now)
		if err != nil {
			return res, fmt.Errorf("update soul file: %w", err)
		}
	}
	return res, nil
}

func (w *Writer) records(ctx context.Context, now time.Time, offline bool) ([]discussions.Record, error) {
	if !offline {
		records, err := w.source.FetchRecent(ctx, w.cfg.Limit)
		if err != nil {
			return nil, fmt.Errorf("fetch discussions: %w", err)
		}
		return records, nil
	}
	posted, err := w.store.LoadPostedLog(now)
	if err != nil {
		return nil, err
	}
	return FromPostedLog(posted, now), nil
}

func (w *Writer) generate(ctx context.Context, agentID string, records []discussions.Record, now time.Time) Digest {
	soul, err := ReadSoul(SoulPath(w.store.Dir(), agentID))
	if err != nil {
		w.logger.Warn("soul file unreadable", "agent_id", agentID, "error", err)
	}
	body, err := w.gen.Generate(ctx, SystemPrompt(agentID, soul), UserPrompt(BuildContext(records)),
		llm.Options{MaxTokens: 1500, Temperature: 0.8})
	if err != nil {
		w.logger.Warn("LLM digest failed, using offline digest", "error", err)
		return Offline(records, w.knownChannels(now), now)
	}
	return Digest{Body: body, ResearchLead: ExtractLead(body)}
}

func (w *Writer) publish(ctx context.Context, now time.Time, res *Result) error {
	created, err := w.poster.Post(ctx, w.cfg.Channel, res.Title, res.Body)
	if err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	res.Posted = true
	res.Number = created.Number
	res.URL = created.URL
	w.logger.Info("digest posted", "agent_id", res.AgentID, "number", created.Number, "url", created.URL)

	posted, err := w.store.LoadPostedLog(now)
	if err != nil {
		return err
	}
	if err := content.RecordPost(w.store, now, res.AgentID, w.cfg.Channel, res.Title, created, posted); err != nil {
		return fmt.Errorf("record digest #%d: %w", created.Number, err)
	}
	return nil
}

// knownChannels is the channel directory's slugs, or the default set when
// the directory is empty or unreadable.
func (w *Writer) knownChannels(now time.Time) []string {
	dir, err := w.store.LoadChannels(now)
	if err != nil || len(dir.Channels) == 0 {
		return DefaultChannels
	}
	slugs := make([]string, 0, len(dir.Channels))
	for slug := range dir.Channels {
		slugs = append(slugs, slug)
	}
	slices.Sort(slugs)
	return slugs
}

// PickAgent returns the requested agent when it exists. Otherwise it picks
// at random among active zion- agents of a curating archetype, then among
// any active zion- agent.
func PickAgent(dir *state.AgentDirectory, requested string, rng *rand.Rand) (string, *state.Agent, error) {
	if a, ok := dir.Agents[requested]; ok && requested != "" {
		return requested, a, nil
	}

	var curators, active []string
	for id, a := range dir.Agents {
		if !strings.HasPrefix(id, "zion-") || a.Status != state.StatusActive {
			continue
		}
		active = append(active, id)
		for _, arch := range CuratorArchetypes {
			if strings.Contains(id, arch) {
				curators = append(curators, id)
				break
			}
		}
	}

	candidates := curators
	if len(candidates) == 0 {
		candidates = active
	}
	if len(candidates) == 0 {
		return "", nil, ErrNoAgent
	}
	slices.Sort(candidates)
	id := candidates[rng.IntN(len(candidates))]
	return id, dir.Agents[id], nil
}

// InScope keeps records in channels (all channels when empty) created
// within window before now. Records with an unparseable date are dropped.
func InScope(records []discussions.Record, channels []string, now time.Time, window time.Duration) []discussions.Record {
	cutoff := now.Add(-window)
	var out []discussions.Record
	for _, r := range records {
		if len(channels) > 0 && !slices.Contains(channels, r.Category.Slug) {
			continue
		}
		created, err := state.ParseTimestamp(r.CreatedAt)
		if err != nil || !created.After(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FromPostedLog turns posted log entries into records for offline digests.
// They carry no body, comments or reactions.
func FromPostedLog(posted *state.PostedLog, now time.Time) []discussions.Record {
	records := make([]discussions.Record, 0, len(posted.Posts))
	for _, p := range posted.Posts {
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		created := p.Timestamp
		if created == "" {
			created = state.Timestamp(now)
		}
		channel := p.Channel
		if channel == "" {
			channel = "general"
		}
		author := p.Author
		if author == "" {
			author = "unknown"
		}
		records = append(records, discussions.Record{
			Number:    p.Number,
			Title:     title,
			CreatedAt: created,
			Reactions: map[string]int{},
			Category:  discussions.Category{Slug: channel, Name: channel},
			Login:     author,
			URL:       p.URL,
		})
	}
	return records
}
