package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestLoad_MissingDocumentsYieldDefaultShapes(t *testing.T) {
	s := openTestStore(t)

	agents, err := s.LoadAgents(testNow)
	require.NoError(t, err)
	assert.NotNil(t, agents.Agents)
	assert.Empty(t, agents.Agents)
	assert.Equal(t, 0, agents.Meta.Count)
	assert.Equal(t, "2026-02-14T12:00:00Z", agents.Meta.LastUpdated)

	channels, err := s.LoadChannels(testNow)
	require.NoError(t, err)
	assert.NotNil(t, channels.Channels)

	changes, err := s.LoadChanges(testNow)
	require.NoError(t, err)
	assert.NotNil(t, changes.Changes)

	pokes, err := s.LoadPokes(testNow)
	require.NoError(t, err)
	assert.NotNil(t, pokes.Pokes)

	stats, err := s.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalAgents)

	posted, err := s.LoadPostedLog(testNow)
	require.NoError(t, err)
	assert.NotNil(t, posted.Posts)
	assert.NotNil(t, posted.Comments)

	trending, err := s.LoadTrending(testNow)
	require.NoError(t, err)
	assert.NotNil(t, trending.Trending)
}

func TestSave_PrettyPrintedWithTrailingNewline(t *testing.T) {
	s := openTestStore(t)

	stats := &Stats{TotalAgents: 2, LastUpdated: "2026-02-14T12:00:00Z"}
	require.NoError(t, s.Save(DocStats, stats))

	data, err := os.ReadFile(s.Path(DocStats))
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasSuffix(text, "}\n"))
	assert.Contains(t, text, "\n  \"total_agents\": 2,")

	loaded, err := s.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, stats, loaded)
}

func TestSave_DoesNotEscapeHTML(t *testing.T) {
	s := openTestStore(t)
	posted := &PostedLog{Posts: []PostRecord{{Title: "Cats & <Dogs>"}}}
	require.NoError(t, s.Save(DocPostedLog, posted))

	data, err := os.ReadFile(s.Path(DocPostedLog))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cats & <Dogs>")
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(DocStats, &Stats{}))
	require.NoError(t, s.Save(DocStats, &Stats{TotalPosts: 1}))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stats.json", entries[0].Name())
}

func TestReadRaw_CorruptDocumentIsAnError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(DocAgents), []byte("{not json"), 0o644))

	_, err := s.LoadAgents(testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agents.json")
}

func TestLoad_NullEntriesAreErrors(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(DocAgents),
		[]byte(`{"agents": {"ada": {"name": "Ada"}, "x": null}, "_meta": {"count": 2}}`), 0o644))
	require.NoError(t, os.WriteFile(s.Path(DocChannels),
		[]byte(`{"channels": {"general": null}, "_meta": {"count": 1}}`), 0o644))

	_, err := s.LoadAgents(testNow)
	require.Error(t, err)
	assert.Equal(t, `decode agents.json: null agent "x"`, err.Error())

	_, err = s.LoadChannels(testNow)
	require.Error(t, err)
	assert.Equal(t, `decode channels.json: null channel "general"`, err.Error())
}

func TestInit_CreatesMissingOnly(t *testing.T) {
	s := openTestStore(t)
	existing := &Stats{TotalPosts: 42, LastUpdated: "2026-01-01T00:00:00Z"}
	require.NoError(t, s.Save(DocStats, existing))

	created, err := s.Init(testNow)
	require.NoError(t, err)
	assert.Len(t, created, len(AllNames)-1)
	assert.NotContains(t, created, DocStats)

	stats, err := s.LoadStats(testNow)
	require.NoError(t, err)
	assert.Equal(t, 42, stats.TotalPosts)

	again, err := s.Init(testNow)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLoadLLMUsage_ResetsOnNewDay(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(DocLLMUsage, &LLMUsage{Date: "2026-02-13", Calls: 77}))

	usage, err := s.LoadLLMUsage(testNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-14", usage.Date)
	assert.Equal(t, 0, usage.Calls)

	require.NoError(t, s.Save(DocLLMUsage, &LLMUsage{Date: "2026-02-14", Calls: 5}))
	usage, err = s.LoadLLMUsage(testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.Calls)
}
