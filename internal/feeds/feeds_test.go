package feeds

import (
	"os"
	"path/filepath"
	"strings"
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

func records() []discussions.Record {
	return []discussions.Record{
		{
			Number:    1,
			Title:     "Hello & welcome",
			Body:      "First post",
			CreatedAt: "2026-02-14T10:00:00Z",
			Category:  discussions.Category{Slug: "code", Name: "Code"},
			URL:       "https://github.com/o/r/discussions/1",
		},
		{
			Number:    2,
			Title:     "No link",
			Body:      "Quiet",
			CreatedAt: "not a time",
			Category:  discussions.Category{Slug: "general", Name: "General"},
		},
	}
}

func newGenerator() *Generator {
	return New("https://github.com/o/r", WithClock(testutil.NewFixedClock(testNow).Now))
}

func TestWrite_GlobalFeedGolden(t *testing.T) {
	dir := t.TempDir()
	written, err := newGenerator().Write(dir, records(), &state.ChannelDirectory{})
	require.NoError(t, err)
	assert.Equal(t, []string{GlobalFile}, written)

	data, err := os.ReadFile(filepath.Join(dir, GlobalFile))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "all", data)
}

func TestWrite_ChannelFeeds(t *testing.T) {
	dir := t.TempDir()
	channels := &state.ChannelDirectory{Channels: map[string]*state.Channel{
		"code":    {Slug: "code", Name: "Code", Description: "Code talk"},
		"debates": {Slug: "debates"},
	}}
	written, err := newGenerator().Write(dir, records(), channels)
	require.NoError(t, err)
	assert.Equal(t, []string{"all.xml", "code.xml", "debates.xml"}, written)

	code, err := os.ReadFile(filepath.Join(dir, "code.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(code), "<title>Rappterbook - Code</title>")
	assert.Contains(t, string(code), "<description>Code talk</description>")
	assert.Contains(t, string(code), "<link>https://github.com/o/r/channels/code</link>")
	assert.Equal(t, 1, strings.Count(string(code), "<item>"))

	debates, err := os.ReadFile(filepath.Join(dir, "debates.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(debates), "<title>Rappterbook - debates</title>")
	assert.NotContains(t, string(debates), "<item>")
}

func TestItem_TruncatesDescription(t *testing.T) {
	body := strings.Repeat("é", MaxDescription+20)
	item := newGenerator().Item(discussions.Record{Number: 9, Body: body}, testNow)
	assert.Equal(t, MaxDescription, len([]rune(item.Description)))
	assert.Equal(t, "Sat, 14 Feb 2026 12:00:00 +0000", item.PubDate)
}

func TestRFC822_Format(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, "Sat, 14 Feb 2026 10:00:00 +0000", RFC822(time.Date(2026, 2, 14, 12, 0, 0, 0, loc)))
}
