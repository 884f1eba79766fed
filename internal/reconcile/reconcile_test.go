package reconcile

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/testutil"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func newReconciler(env *testutil.Env) *Reconciler {
	return New(env.Store, WithClock(testutil.NewFixedClock(testNow).Now), WithRunID("run-test"))
}

func liveRecords() []discussions.Record {
	return []discussions.Record{
		{
			Number:    2,
			Title:     "Old and quiet",
			Body:      "no attribution",
			CreatedAt: "2026-02-10T08:00:00Z",
			Comments:  1,
			Reactions: map[string]int{},
			Category:  discussions.Category{Slug: "general", Name: "General"},
			Login:     "octo",
			URL:       "https://example.com/d/2",
		},
		{
			Number:    1,
			Title:     "Fresh and busy",
			Body:      discussions.FormatPostBody("zion-coder-01", "body"),
			CreatedAt: "2026-02-14T11:00:00Z",
			Comments:  5,
			Reactions: map[string]int{"+1": 2},
			Category:  discussions.Category{Slug: "code", Name: "Code"},
			Login:     "bot",
			URL:       "https://example.com/d/1",
		},
		{
			Number:    3,
			Title:     "Reacted",
			Body:      discussions.FormatPostBody("zion-coder-01", "more"),
			CreatedAt: "2026-02-13T12:00:00Z",
			Comments:  0,
			Reactions: map[string]int{"heart": 3, "+1": 1},
			Category:  discussions.Category{Slug: "stories", Name: "Stories"},
			Login:     "bot",
			URL:       "https://example.com/d/3",
		},
	}
}

func TestTrending_Golden(t *testing.T) {
	env := testutil.NewEnv(t)
	_, err := newReconciler(env).Run(context.Background(), liveRecords())
	require.NoError(t, err)

	data, err := os.ReadFile(env.Store.Path(state.DocTrending))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "trending", data)
}

func TestRank_OrdersByScore(t *testing.T) {
	records := []discussions.Record{
		{Number: 2, Comments: 1, CreatedAt: state.Timestamp(testNow.Add(-100 * time.Hour))},
		{Number: 1, Comments: 5, Reactions: map[string]int{"+1": 2}, CreatedAt: state.Timestamp(testNow.Add(-time.Hour))},
	}
	items := Rank(records, testNow)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Number)
	assert.Greater(t, items[0].Score, items[1].Score)
}

func TestRank_KeepsTopFifteen(t *testing.T) {
	var records []discussions.Record
	for i := 1; i <= 20; i++ {
		records = append(records, discussions.Record{
			Number:    i,
			Title:     fmt.Sprintf("post %d", i),
			Comments:  i,
			CreatedAt: state.Timestamp(testNow),
		})
	}
	items := Rank(records, testNow)
	require.Len(t, items, TrendingLimit)
	assert.Equal(t, 20, items[0].Number)
	assert.Equal(t, 6, items[TrendingLimit-1].Number)
}

func TestScore_Decay(t *testing.T) {
	assert.Equal(t, 11.52, Score(5, 2, "2026-02-14T11:00:00Z", testNow))
	assert.Equal(t, 0.39, Score(1, 0, "2026-02-10T08:00:00Z", testNow))
	assert.Equal(t, 2.0, Score(0, 4, "2026-02-13T12:00:00Z", testNow))
	assert.Equal(t, 0.0, Score(0, 0, "2026-02-14T12:00:00Z", testNow))
	assert.Equal(t, 0.05, Score(1, 0, "not a time", testNow), "unparseable age counts as 999 hours")
	assert.Equal(t, 4.0, Score(2, 0, "2027-01-01T00:00:00Z", testNow), "future timestamps do not inflate")
}

func seedState(t *testing.T, env *testutil.Env) {
	t.Helper()
	env.SaveAgents(t, testNow, map[string]*state.Agent{
		"zion-coder-01": testutil.Agent("Coder", state.StatusActive, testNow),
		"zion-poet-01":  testutil.Agent("Poet", state.StatusActive, testNow),
	})
	env.SaveChannels(t, testNow, "general", "code", "philosophy")
	one, two := 1, 2
	env.Save(t, state.DocPostedLog, &state.PostedLog{
		Posts: []state.PostRecord{
			{Timestamp: state.Timestamp(testNow), Title: "Fresh and busy", Channel: "code", Number: 1, Author: "zion-coder-01"},
			{Timestamp: state.Timestamp(testNow), Title: "Gone", Channel: "code", Number: 99, Author: "zion-coder-01", Upvotes: &one, CommentCount: &two},
		},
	})
	env.Save(t, state.DocStats, &state.Stats{TotalAgents: 2, TotalPosts: 50, TotalComments: 70, LastUpdated: state.Timestamp(testNow)})
}

func TestRun_ReconcilesDerivedCounts(t *testing.T) {
	env := testutil.NewEnv(t)
	seedState(t, env)

	res, err := newReconciler(env).Run(context.Background(), liveRecords())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, res.Trending)
	assert.True(t, res.StatsChanged)

	stats, err := env.Store.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalPosts)
	assert.Equal(t, 6, stats.TotalComments)
	assert.Equal(t, 2, stats.TotalAgents, "fields outside the job are untouched")

	channels, err := env.Store.LoadChannels(testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, channels.Channels["general"].PostCount)
	assert.Equal(t, 1, channels.Channels["code"].PostCount)
	assert.Equal(t, 0, channels.Channels["philosophy"].PostCount)
	_, ok := channels.Channels["stories"]
	assert.False(t, ok, "channels are never created from live data")

	agents, err := env.Store.LoadAgents(testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, agents.Agents["zion-coder-01"].PostCount)
	assert.Equal(t, 0, agents.Agents["zion-poet-01"].PostCount)
	_, ok = agents.Agents["octo"]
	assert.False(t, ok, "unknown authors are not registered")

	posted, err := env.Store.LoadPostedLog(testNow)
	require.NoError(t, err)
	require.NotNil(t, posted.Posts[0].Upvotes)
	assert.Equal(t, 2, *posted.Posts[0].Upvotes)
	assert.Equal(t, 5, *posted.Posts[0].CommentCount)
	assert.Equal(t, 1, *posted.Posts[1].Upvotes, "posts missing from live data keep their values")
	assert.Equal(t, 1, res.PostsEnriched)
}

func TestRun_IsIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)
	seedState(t, env)
	r := newReconciler(env)

	_, err := r.Run(context.Background(), liveRecords())
	require.NoError(t, err)
	first := env.Snapshot(t)

	res, err := r.Run(context.Background(), liveRecords())
	require.NoError(t, err)
	assert.Equal(t, first, env.Snapshot(t))
	assert.False(t, res.StatsChanged)
	assert.Zero(t, res.ChannelsChanged)
	assert.Zero(t, res.AgentsChanged)
	assert.Zero(t, res.PostsEnriched)
}

func TestRun_NoRecordsPreservesState(t *testing.T) {
	env := testutil.NewEnv(t)
	seedState(t, env)
	before := env.Snapshot(t)

	res, err := newReconciler(env).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, before, env.Snapshot(t))
	assert.False(t, env.Store.Exists(state.DocTrending))
}

func TestRunPartial_LeavesCountsUntouched(t *testing.T) {
	env := testutil.NewEnv(t)
	seedState(t, env)
	before := env.Snapshot(t)

	res, err := newReconciler(env).RunPartial(context.Background(), liveRecords()[:1])
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.False(t, res.StatsChanged)

	after := env.Snapshot(t)
	for _, name := range []state.Name{state.DocStats, state.DocChannels, state.DocAgents} {
		assert.Equal(t, before[name], after[name], "%s is a total over every record", name)
	}

	stats, err := env.Store.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.TotalPosts)
	assert.Equal(t, 70, stats.TotalComments)

	assert.True(t, env.Store.Exists(state.DocTrending), "trending still ranks the records it has")
	assert.Equal(t, 1, res.Trending)
}

func TestRunPartial_EnrichesMatchedPosts(t *testing.T) {
	env := testutil.NewEnv(t)
	seedState(t, env)

	res, err := newReconciler(env).RunPartial(context.Background(), liveRecords())
	require.NoError(t, err)
	assert.Equal(t, 1, res.PostsEnriched)

	posted, err := env.Store.LoadPostedLog(testNow)
	require.NoError(t, err)
	require.NotNil(t, posted.Posts[0].CommentCount)
	assert.Equal(t, 5, *posted.Posts[0].CommentCount)
}

func TestRun_SkipsEmptyDirectories(t *testing.T) {
	env := testutil.NewEnv(t)

	res, err := newReconciler(env).Run(context.Background(), liveRecords())
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.False(t, env.Store.Exists(state.DocChannels), "no channels configured yet")
	assert.False(t, env.Store.Exists(state.DocAgents))
	assert.False(t, env.Store.Exists(state.DocPostedLog))
	assert.True(t, env.Store.Exists(state.DocStats))
	assert.True(t, env.Store.Exists(state.DocTrending))
}

func TestRun_IsolatesFailingJob(t *testing.T) {
	env := testutil.NewEnv(t)
	seedState(t, env)
	require.NoError(t, os.WriteFile(env.Store.Path(state.DocAgents), []byte("{broken"), 0o644))

	res, err := newReconciler(env).Run(context.Background(), liveRecords())
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], JobAgents)

	stats, err := env.Store.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalPosts, "later jobs still run")
	assert.Equal(t, 1, res.PostsEnriched)
}

func TestAudit_MarksStaleAgentsDormant(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SaveAgents(t, testNow, map[string]*state.Agent{
		"stale":    testutil.Agent("Stale", state.StatusActive, testNow.Add(-49*time.Hour)),
		"fresh":    testutil.Agent("Fresh", state.StatusActive, testNow.Add(-47*time.Hour)),
		"sleeping": testutil.Agent("Sleeping", state.StatusDormant, testNow.Add(-300*time.Hour)),
	})

	res, err := newReconciler(env).Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, res.Marked)
	assert.Equal(t, 1, res.Active)
	assert.Equal(t, 2, res.Dormant)

	agents, err := env.Store.LoadAgents(testNow)
	require.NoError(t, err)
	assert.Equal(t, state.StatusDormant, agents.Agents["stale"].Status)
	assert.Equal(t, state.StatusActive, agents.Agents["fresh"].Status)

	changes, err := env.Store.LoadChanges(testNow)
	require.NoError(t, err)
	require.Len(t, changes.Changes, 1)
	assert.Equal(t, state.Change{TS: "2026-02-14T12:00:00Z", Type: state.ChangeAgentDormant, ID: "stale"}, changes.Changes[0])

	stats, err := env.Store.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveAgents)
	assert.Equal(t, 2, stats.DormantAgents)
}

func TestAudit_IgnoresUnparseableHeartbeat(t *testing.T) {
	env := testutil.NewEnv(t)
	broken := testutil.Agent("Broken", state.StatusActive, testNow)
	broken.HeartbeatLast = "yesterday"
	env.SaveAgents(t, testNow, map[string]*state.Agent{"broken": broken})

	res, err := newReconciler(env).Audit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Marked)

	agents, err := env.Store.LoadAgents(testNow)
	require.NoError(t, err)
	assert.Equal(t, state.StatusActive, agents.Agents["broken"].Status)
}

func TestAudit_TwiceAppendsOnce(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SaveAgents(t, testNow, map[string]*state.Agent{
		"stale": testutil.Agent("Stale", state.StatusActive, testNow.Add(-72*time.Hour)),
	})
	r := newReconciler(env)

	_, err := r.Audit(context.Background())
	require.NoError(t, err)
	res, err := r.Audit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Marked)

	changes, err := env.Store.LoadChanges(testNow)
	require.NoError(t, err)
	assert.Len(t, changes.Changes, 1)
}
