package digest

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/llm"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/testutil"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

const curator = "zion-curator-01"

type fakeSource struct {
	records []discussions.Record
	err     error
	limit   int
}

func (s *fakeSource) FetchRecent(_ context.Context, limit int) ([]discussions.Record, error) {
	s.limit = limit
	return s.records, s.err
}

type fakePoster struct {
	channel string
	title   string
	body    string
	err     error
}

func (p *fakePoster) Post(_ context.Context, channel, title, body string) (discussions.Created, error) {
	if p.err != nil {
		return discussions.Created{}, p.err
	}
	p.channel, p.title, p.body = channel, title, body
	return discussions.Created{ID: "D_501", Number: 501, URL: "https://example.com/d/501"}, nil
}

type fakeGenerator struct {
	text string
	err  error
	user string
}

func (g *fakeGenerator) Generate(_ context.Context, _, user string, _ llm.Options) (string, error) {
	g.user = user
	return g.text, g.err
}

func record(n int, title, channel string, age time.Duration, comments, upvotes int) discussions.Record {
	return discussions.Record{
		Number:    n,
		Title:     title,
		Body:      title + " body",
		CreatedAt: state.Timestamp(testNow.Add(-age)),
		Comments:  comments,
		Reactions: map[string]int{"+1": upvotes},
		Category:  discussions.Category{Slug: channel, Name: channel},
		Login:     "poster",
	}
}

func seedAgents(t *testing.T, env *testutil.Env) {
	t.Helper()
	cur := testutil.Agent("Curator", state.StatusActive, testNow.Add(-time.Hour))
	cur.SubscribedChannels = []string{"code", "research"}
	env.SaveAgents(t, testNow, map[string]*state.Agent{
		curator:         cur,
		"zion-coder-02": testutil.Agent("Coder", state.StatusActive, testNow.Add(-time.Hour)),
	})
	env.SaveChannels(t, testNow, "code", "digests", "general", "research")
}

func writeSoul(t *testing.T, env *testutil.Env, text string) string {
	t.Helper()
	path := SoulPath(env.Dir, curator)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func newWriter(env *testutil.Env, cfg Config, opts ...Option) *Writer {
	opts = append([]Option{
		WithClock(testutil.NewFixedClock(testNow).Now),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}, opts...)
	return New(env.Store, cfg, opts...)
}

func TestPickAgent_RequestedAgentWins(t *testing.T) {
	dir := &state.AgentDirectory{Agents: map[string]*state.Agent{
		"ada":   testutil.Agent("Ada", state.StatusDormant, testNow),
		curator: testutil.Agent("Curator", state.StatusActive, testNow),
	}}

	id, a, err := PickAgent(dir, "ada", rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, "ada", id)
	assert.Equal(t, "Ada", a.Name)
}

func TestPickAgent_PrefersCuratingArchetypes(t *testing.T) {
	dir := &state.AgentDirectory{Agents: map[string]*state.Agent{
		"zion-coder-02":      testutil.Agent("Coder", state.StatusActive, testNow),
		"zion-archivist-03":  testutil.Agent("Archivist", state.StatusActive, testNow),
		"zion-researcher-04": testutil.Agent("Researcher", state.StatusDormant, testNow),
		"curator-bot":        testutil.Agent("Outsider", state.StatusActive, testNow),
	}}

	for seed := range uint64(20) {
		id, _, err := PickAgent(dir, "missing", rand.New(rand.NewPCG(seed, 0)))
		require.NoError(t, err)
		assert.Equal(t, "zion-archivist-03", id)
	}
}

func TestPickAgent_FallsBackToAnyActiveZionAgent(t *testing.T) {
	dir := &state.AgentDirectory{Agents: map[string]*state.Agent{
		"zion-coder-02": testutil.Agent("Coder", state.StatusActive, testNow),
		"zion-poet-05":  testutil.Agent("Poet", state.StatusDormant, testNow),
	}}

	id, _, err := PickAgent(dir, "", rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, "zion-coder-02", id)
}

func TestPickAgent_NoCandidates(t *testing.T) {
	dir := &state.AgentDirectory{Agents: map[string]*state.Agent{
		"ada": testutil.Agent("Ada", state.StatusActive, testNow),
	}}

	_, _, err := PickAgent(dir, "", rand.New(rand.NewPCG(1, 2)))
	assert.ErrorIs(t, err, ErrNoAgent)
}

func TestInScope_ChannelAndWindow(t *testing.T) {
	records := []discussions.Record{
		record(1, "fresh code", "code", 24*time.Hour, 0, 0),
		record(2, "old code", "code", 8*24*time.Hour, 0, 0),
		record(3, "fresh general", "general", time.Hour, 0, 0),
		{Number: 4, Title: "no date", CreatedAt: "yesterday", Category: discussions.Category{Slug: "code"}},
	}

	got := InScope(records, []string{"code", "research"}, testNow, 7*24*time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Number)

	assert.Len(t, InScope(records, nil, testNow, 7*24*time.Hour), 2, "no subscriptions means every channel")
}

func TestOffline_RanksByEngagement(t *testing.T) {
	records := []discussions.Record{
		record(1, "Quiet", "code", time.Hour, 1, 0),
		record(2, "Hot", "code", time.Hour, 5, 1),
		record(3, "Liked", "code", time.Hour, 0, 3),
		record(4, "Argued", "research", time.Hour, 3, 0),
	}

	d := Offline(records, []string{"code", "general", "research"}, testNow)

	assert.Contains(t, d.Body, "**1. [Hot]** (c/code, 11 engagement)\n   Hot body...\n")
	assert.Contains(t, d.Body, "**2. [Argued]** (c/research, 6 engagement)")
	assert.Contains(t, d.Body, "**3. [Liked]** (c/code, 3 engagement)")
	assert.NotContains(t, d.Body, "[Quiet]** (c/")
	assert.Contains(t, d.Body, "**1. [Hot]** — 5 comments, still unresolved")
	assert.Contains(t, d.Body, "**2. [Argued]** — 3 comments, still unresolved")
	assert.Equal(t, "Nobody posted in c/general this week. Why?", d.ResearchLead)
	assert.True(t, strings.HasSuffix(d.Body, "*Digest generated 2026-02-14T12:00:00Z*"))
}

func TestOffline_QuietWeek(t *testing.T) {
	records := []discussions.Record{record(1, "Lonely", "code", time.Hour, 0, 0)}

	d := Offline(records, []string{"code"}, testNow)

	assert.Contains(t, d.Body, "*No heated debates this week. Suspiciously quiet.*")
	assert.Equal(t, "All channels active, but depth varies. Are we spreading too thin?", d.ResearchLead)
}

func TestBuildContext_TruncatesLongBodies(t *testing.T) {
	long := record(1, "Long", "", time.Hour, 2, 1)
	long.Body = strings.Repeat("x", 600)

	got := BuildContext([]discussions.Record{long})
	assert.Contains(t, got, "Channel: c/uncategorized | Author: poster | Comments: 2 | Reactions: 1")
	assert.Contains(t, got, strings.Repeat("x", 500)+"\n...\n")
	assert.NotContains(t, got, strings.Repeat("x", 501))

	assert.Equal(t, "No discussions found in the past 7 days.", BuildContext(nil))
}

func TestExtractLead_StopsAtNextHeading(t *testing.T) {
	body := "## 3 Key Insights\nstuff\n\n## 1 Thing Nobody's Talking About\n\nWhy is c/meta empty?\nMaybe nobody cares.\n\n## Personal note\nbye"
	assert.Equal(t, "Why is c/meta empty? Maybe nobody cares.", ExtractLead(body))

	long := "## Nobody is talking about\n" + strings.Repeat("y", 400)
	assert.Len(t, ExtractLead(long), 300)

	assert.Empty(t, ExtractLead("## 3 Key Insights\nnothing else"))
}

func TestAppendResearchLead_InsertsUnderHistory(t *testing.T) {
	env := testutil.NewEnv(t)
	path := writeSoul(t, env, "# Curator\n\n## History\n- older entry\n")

	ok, err := AppendResearchLead(path, "Why is c/meta empty?", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Curator\n\n## History\n"+
		"- **2026-02-14T12:00:00Z** — Weekly digest published. Research lead: Why is c/meta empty?\n"+
		"- older entry\n", string(got))
}

func TestAppendResearchLead_AddsHistorySection(t *testing.T) {
	env := testutil.NewEnv(t)
	path := writeSoul(t, env, "# Curator")

	ok, err := AppendResearchLead(path, "lead", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Curator\n\n## History\n\n"+
		"- **2026-02-14T12:00:00Z** — Weekly digest published. Research lead: lead\n", string(got))
}

func TestAppendResearchLead_MissingSoulIsSkipped(t *testing.T) {
	env := testutil.NewEnv(t)
	path := SoulPath(env.Dir, "nobody")

	ok, err := AppendResearchLead(path, "lead", testNow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}

func TestRun_DryRunPreviewsFromPostedLog(t *testing.T) {
	env := testutil.NewEnv(t)
	seedAgents(t, env)
	env.Save(t, state.DocPostedLog, &state.PostedLog{Posts: []state.PostRecord{
		{Timestamp: state.Timestamp(testNow.Add(-24 * time.Hour)), Title: "Recent", Channel: "code", Number: 7, Author: "zion-coder-02"},
		{Timestamp: state.Timestamp(testNow.Add(-10 * 24 * time.Hour)), Title: "Stale", Channel: "code", Number: 3},
		{Timestamp: state.Timestamp(testNow.Add(-time.Hour)), Title: "Elsewhere", Channel: "general", Number: 8},
	}})
	soul := writeSoul(t, env, "# Curator\n\n## History\n")
	before := env.Snapshot(t)

	poster := &fakePoster{}
	res, err := newWriter(env, Config{Agent: curator, DryRun: true},
		WithSource(&fakeSource{err: errors.New("must not be called")}),
		WithPoster(poster),
	).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Offline)
	assert.False(t, res.Posted)
	assert.Equal(t, curator, res.AgentID)
	assert.Equal(t, 1, res.InScope)
	assert.Equal(t, "[DIGEST] Weekly Roundup — Feb 14, 2026", res.Title)
	assert.True(t, strings.HasPrefix(res.Body, "*Weekly digest by **zion-curator-01***\n\n---\n\n## 3 Key Insights"))
	assert.Contains(t, res.Body, "[Recent]")
	assert.Equal(t, "Nobody posted in c/digests this week. Why?", res.ResearchLead)
	assert.Empty(t, poster.title)
	assert.Equal(t, before, env.Snapshot(t), "a preview leaves state documents alone")

	assert.True(t, res.SoulUpdated)
	got, err := os.ReadFile(soul)
	require.NoError(t, err)
	assert.Contains(t, string(got), "Research lead: Nobody posted in c/digests this week. Why?")
}

func TestRun_PostsAndRecordsDigest(t *testing.T) {
	env := testutil.NewEnv(t)
	seedAgents(t, env)
	writeSoul(t, env, "# Curator\n\n## History\n")

	source := &fakeSource{records: []discussions.Record{
		record(11, "Tabs vs spaces", "code", time.Hour, 4, 2),
		record(12, "Off topic", "random", time.Hour, 9, 9),
	}}
	gen := &fakeGenerator{text: "## 3 Key Insights\nTabs won.\n\n## 1 Thing Nobody's Talking About\nc/research is silent.\n"}
	poster := &fakePoster{}

	res, err := newWriter(env, Config{Agent: curator},
		WithSource(source), WithPoster(poster), WithGenerator(gen),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, source.limit)
	assert.Equal(t, 1, res.InScope)
	assert.Contains(t, gen.user, "### Tabs vs spaces")
	assert.NotContains(t, gen.user, "Off topic")

	assert.True(t, res.Posted)
	assert.Equal(t, 501, res.Number)
	assert.Equal(t, "digests", poster.channel)
	assert.Equal(t, res.Title, poster.title)
	assert.Equal(t, "*Weekly digest by **zion-curator-01***\n\n---\n\n"+gen.text, poster.body)
	assert.Equal(t, "c/research is silent.", res.ResearchLead)
	assert.True(t, res.SoulUpdated)

	posted, err := env.Store.LoadPostedLog(testNow)
	require.NoError(t, err)
	require.Len(t, posted.Posts, 1)
	assert.Equal(t, state.PostRecord{
		Timestamp: "2026-02-14T12:00:00Z",
		Title:     res.Title,
		Channel:   "digests",
		Number:    501,
		URL:       "https://example.com/d/501",
		Author:    curator,
	}, posted.Posts[0])

	channels, err := env.Store.LoadChannels(testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, channels.Channels["digests"].PostCount)

	agents, err := env.Store.LoadAgents(testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, agents.Agents[curator].PostCount)
}

func TestRun_GeneratorFailureFallsBackToOfflineDigest(t *testing.T) {
	env := testutil.NewEnv(t)
	seedAgents(t, env)

	source := &fakeSource{records: []discussions.Record{record(11, "Tabs vs spaces", "code", time.Hour, 4, 2)}}
	poster := &fakePoster{}

	res, err := newWriter(env, Config{Agent: curator},
		WithSource(source), WithPoster(poster), WithGenerator(&fakeGenerator{err: errors.New("rate limited")}),
	).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Posted)
	assert.Contains(t, poster.body, "**1. [Tabs vs spaces]** (c/code, 10 engagement)")
	assert.Equal(t, "Nobody posted in c/digests this week. Why?", res.ResearchLead)
	assert.False(t, res.SoulUpdated, "no soul file to update")
}

func TestRun_EmptyWindowPostsNothing(t *testing.T) {
	env := testutil.NewEnv(t)
	seedAgents(t, env)
	poster := &fakePoster{}

	res, err := newWriter(env, Config{Agent: curator},
		WithSource(&fakeSource{records: []discussions.Record{record(1, "Old", "code", 30*24*time.Hour, 1, 1)}}),
		WithPoster(poster),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.InScope)
	assert.False(t, res.Posted)
	assert.Empty(t, res.Title)
	assert.Empty(t, poster.title)
}

func TestRun_FetchAndPostErrors(t *testing.T) {
	env := testutil.NewEnv(t)
	seedAgents(t, env)

	_, err := newWriter(env, Config{Agent: curator},
		WithSource(&fakeSource{err: errors.New("502 bad gateway")}),
		WithPoster(&fakePoster{}),
	).Run(context.Background())
	require.ErrorContains(t, err, "fetch discussions: 502 bad gateway")

	_, err = newWriter(env, Config{Agent: curator},
		WithSource(&fakeSource{records: []discussions.Record{record(1, "New", "code", time.Hour, 0, 0)}}),
		WithPoster(&fakePoster{err: errors.New("forbidden")}),
	).Run(context.Background())
	require.ErrorContains(t, err, "post digest: forbidden")

	posted, err := env.Store.LoadPostedLog(testNow)
	require.NoError(t, err)
	assert.Empty(t, posted.Posts)
}

func TestRun_NoAgents(t *testing.T) {
	env := testutil.NewEnv(t)

	_, err := newWriter(env, DefaultConfig()).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoAgent)
}
