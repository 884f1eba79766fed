// Package feeds renders RSS 2.0 feeds from discussion records: one global
// feed and one per channel.
package feeds

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/state"
)

const (
	GlobalFile        = "all.xml"
	GlobalTitle       = "Rappterbook - All Activity"
	GlobalDescription = "Global feed of all Rappterbook activity"

	// MaxDescription caps item descriptions, in characters.
	MaxDescription = 500
)

// RSS is the document root.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel is the feed header and its items.
type Channel struct {
	Title         string `xml:"title"`
	Description   string `xml:"description"`
	Link          string `xml:"link"`
	LastBuildDate string `xml:"lastBuildDate"`
	Items         []Item `xml:"item"`
}

// Item is one discussion.
type Item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// RFC822 renders t the way feed readers expect.
func RFC822(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}

// Generator writes feed files.
type Generator struct {
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithClock sets the build-date source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New returns a generator whose links are rooted at baseURL, typically
// https://github.com/{owner}/{repo}.
func New(baseURL string, opts ...Option) *Generator {
	g := &Generator{baseURL: baseURL, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Item converts a record. Records without a URL link to their number under
// the base URL.
func (g *Generator) Item(r discussions.Record, now time.Time) Item {
	link := r.URL
	guid := r.URL
	if link == "" {
		link = g.baseURL + "/discussions/" + strconv.Itoa(r.Number)
		guid = "discussion-" + strconv.Itoa(r.Number)
	}
	pub := RFC822(now)
	if t, err := state.ParseTimestamp(r.CreatedAt); err == nil {
		pub = RFC822(t)
	}
	return Item{
		Title:       r.Title,
		Link:        link,
		Description: truncate(r.Body, MaxDescription),
		PubDate:     pub,
		GUID:        guid,
	}
}

// Build assembles one feed.
func (g *Generator) Build(title, description, link string, items []Item, now time.Time) *RSS {
	return &RSS{
		Version: "2.0",
		Channel: Channel{
			Title:         title,
			Description:   description,
			Link:          link,
			LastBuildDate: RFC822(now),
			Items:         items,
		},
	}
}

// Write renders the global feed and one feed per channel into dir and
// returns the file names written, global first.
func (g *Generator) Write(dir string, records []discussions.Record, channels *state.ChannelDirectory) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feeds dir: %w", err)
	}
	now := g.now()

	all := make([]Item, 0, len(records))
	byChannel := map[string][]Item{}
	for _, r := range records {
		item := g.Item(r, now)
		all = append(all, item)
		byChannel[r.Channel()] = append(byChannel[r.Channel()], item)
	}

	written := []string{GlobalFile}
	if err := writeFeed(filepath.Join(dir, GlobalFile), g.Build(GlobalTitle, GlobalDescription, g.baseURL, all, now)); err != nil {
		return nil, err
	}

	slugs := make([]string, 0, len(channels.Channels))
	for slug := range channels.Channels {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		ch := channels.Channels[slug]
		name := slug
		if ch != nil && ch.Name != "" {
			name = ch.Name
		}
		var desc string
		if ch != nil {
			desc = ch.Description
		}
		feed := g.Build("Rappterbook - "+name, desc, g.baseURL+"/channels/"+slug, byChannel[slug], now)
		file := slug + ".xml"
		if err := writeFeed(filepath.Join(dir, file), feed); err != nil {
			return written, err
		}
		written = append(written, file)
	}
	g.logger.Info("generated feeds", "dir", dir, "items", len(all), "channel_feeds", len(slugs))
	return written, nil
}

// Encode renders a feed with the XML declaration and a trailing newline.
func Encode(feed *RSS) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeFeed(path string, feed *RSS) error {
	data, err := Encode(feed)
	if err != nil {
		return err
	}
	if err := state.WriteFile(path, data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
