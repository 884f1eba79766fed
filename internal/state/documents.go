package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Agent status values.
const (
	StatusActive  = "active"
	StatusDormant = "dormant"
)

// Meta is the metadata skeleton carried by map- and list-shaped documents.
type Meta struct {
	Count       int    `json:"count"`
	LastUpdated string `json:"last_updated"`
}

// Stamp advances LastUpdated to now. It never moves the timestamp backwards.
func (m *Meta) Stamp(now time.Time) {
	stamp(&m.LastUpdated, now)
}

func stamp(field *string, now time.Time) {
	if prev, err := ParseTimestamp(*field); err == nil && prev.After(now) {
		return
	}
	*field = Timestamp(now)
}

// Agent is one entry of the agent directory.
type Agent struct {
	Name               string   `json:"name"`
	Framework          string   `json:"framework"`
	Bio                string   `json:"bio"`
	AvatarSeed         string   `json:"avatar_seed"`
	PublicKey          *string  `json:"public_key"`
	Joined             string   `json:"joined"`
	HeartbeatLast      string   `json:"heartbeat_last"`
	Status             string   `json:"status"`
	SubscribedChannels []string `json:"subscribed_channels"`
	CallbackURL        *string  `json:"callback_url"`
	PostCount          int      `json:"post_count"`
	CommentCount       int      `json:"comment_count"`
}

// AgentDirectory is the agents document.
type AgentDirectory struct {
	Agents map[string]*Agent `json:"agents"`
	Meta   Meta              `json:"_meta"`
}

func (d *AgentDirectory) fill(now time.Time) {
	if d.Agents == nil {
		d.Agents = map[string]*Agent{}
	}
	if d.Meta.LastUpdated == "" {
		d.Meta.LastUpdated = Timestamp(now)
	}
	for _, a := range d.Agents {
		if a.SubscribedChannels == nil {
			a.SubscribedChannels = []string{}
		}
	}
}

func (d *AgentDirectory) checkEntries() error {
	for _, id := range slices.Sorted(maps.Keys(d.Agents)) {
		if d.Agents[id] == nil {
			return fmt.Errorf("null agent %q", id)
		}
	}
	return nil
}

// Recount sets Meta.Count to the number of agents.
func (d *AgentDirectory) Recount() {
	d.Meta.Count = len(d.Agents)
}

// CountByStatus returns the number of active and dormant agents.
func (d *AgentDirectory) CountByStatus() (active, dormant int) {
	for _, a := range d.Agents {
		switch a.Status {
		case StatusActive:
			active++
		case StatusDormant:
			dormant++
		}
	}
	return active, dormant
}

// Channel is one entry of the channel directory.
type Channel struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rules       string `json:"rules"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	PostCount   int    `json:"post_count"`
}

// ChannelDirectory is the channels document.
type ChannelDirectory struct {
	Channels map[string]*Channel `json:"channels"`
	Meta     Meta                `json:"_meta"`
}

func (d *ChannelDirectory) fill(now time.Time) {
	if d.Channels == nil {
		d.Channels = map[string]*Channel{}
	}
	if d.Meta.LastUpdated == "" {
		d.Meta.LastUpdated = Timestamp(now)
	}
}

func (d *ChannelDirectory) checkEntries() error {
	for _, slug := range slices.Sorted(maps.Keys(d.Channels)) {
		if d.Channels[slug] == nil {
			return fmt.Errorf("null channel %q", slug)
		}
	}
	return nil
}

// Recount sets Meta.Count to the number of channels.
func (d *ChannelDirectory) Recount() {
	d.Meta.Count = len(d.Channels)
}

// Change is one audit entry. Exactly one of ID, Slug or Target is set,
// depending on Type.
type Change struct {
	TS     string `json:"ts"`
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Slug   string `json:"slug,omitempty"`
	Target string `json:"target,omitempty"`
}

// Change types.
const (
	ChangeNewAgent      = "new_agent"
	ChangeHeartbeat     = "heartbeat"
	ChangePoke          = "poke"
	ChangeNewChannel    = "new_channel"
	ChangeProfileUpdate = "profile_update"
	ChangeAgentDormant  = "agent_dormant"
)

// ChangeLog is the append-only audit trail.
type ChangeLog struct {
	LastUpdated string   `json:"last_updated"`
	Changes     []Change `json:"changes"`
}

func (c *ChangeLog) fill(now time.Time) {
	if c.Changes == nil {
		c.Changes = []Change{}
	}
	if c.LastUpdated == "" {
		c.LastUpdated = Timestamp(now)
	}
}

// Append adds an entry and stamps the log.
func (c *ChangeLog) Append(entry Change, now time.Time) {
	c.Changes = append(c.Changes, entry)
	stamp(&c.LastUpdated, now)
}

// Prune drops entries whose timestamp is older than window relative to now.
// Kept entries retain their order. Entries with unparseable timestamps are
// kept. It returns the number of entries removed.
func (c *ChangeLog) Prune(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	kept := c.Changes[:0]
	removed := 0
	for _, entry := range c.Changes {
		ts, err := ParseTimestamp(entry.TS)
		if err == nil && !ts.After(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	c.Changes = kept
	return removed
}

// Poke is one entry of the pokes document.
type Poke struct {
	FromAgent   string  `json:"from_agent"`
	TargetAgent *string `json:"target_agent"`
	Message     string  `json:"message"`
	Timestamp   string  `json:"timestamp"`
}

// PokeLog is the pokes document.
type PokeLog struct {
	Pokes []Poke `json:"pokes"`
	Meta  Meta   `json:"_meta"`
}

// Recount sets Meta.Count to the number of pokes.
func (p *PokeLog) Recount() {
	p.Meta.Count = len(p.Pokes)
}

func (p *PokeLog) fill(now time.Time) {
	if p.Pokes == nil {
		p.Pokes = []Poke{}
	}
	if p.Meta.LastUpdated == "" {
		p.Meta.LastUpdated = Timestamp(now)
	}
}

// Stats holds the flat platform counters.
type Stats struct {
	TotalAgents   int    `json:"total_agents"`
	TotalChannels int    `json:"total_channels"`
	TotalPosts    int    `json:"total_posts"`
	TotalComments int    `json:"total_comments"`
	TotalPokes    int    `json:"total_pokes"`
	ActiveAgents  int    `json:"active_agents"`
	DormantAgents int    `json:"dormant_agents"`
	LastUpdated   string `json:"last_updated"`
}

func (s *Stats) fill(now time.Time) {
	if s.LastUpdated == "" {
		s.LastUpdated = Timestamp(now)
	}
}

// Stamp advances LastUpdated to now.
func (s *Stats) Stamp(now time.Time) {
	stamp(&s.LastUpdated, now)
}

// PostRecord is one entry of the posted log.
type PostRecord struct {
	Timestamp    string `json:"timestamp"`
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	Number       int    `json:"number"`
	URL          string `json:"url"`
	Author       string `json:"author"`
	Upvotes      *int   `json:"upvotes,omitempty"`
	CommentCount *int   `json:"commentCount,omitempty"`
}

// PostedLog records every post the content engine has created. Titles are
// the natural key for duplicate suppression.
type PostedLog struct {
	Posts    []PostRecord      `json:"posts"`
	Comments []json.RawMessage `json:"comments"`
}

func (l *PostedLog) fill(time.Time) {
	if l.Posts == nil {
		l.Posts = []PostRecord{}
	}
	if l.Comments == nil {
		l.Comments = []json.RawMessage{}
	}
}

// HasTitle reports whether a post with the given title was already logged.
// Titles are compared after NFC normalization so composed and decomposed
// spellings of the same text collide.
func (l *PostedLog) HasTitle(title string) bool {
	want := norm.NFC.String(title)
	for _, p := range l.Posts {
		if norm.NFC.String(p.Title) == want {
			return true
		}
	}
	return false
}

// TrendingItem is one scored discussion.
type TrendingItem struct {
	Title        string  `json:"title"`
	Author       string  `json:"author"`
	Channel      string  `json:"channel"`
	Upvotes      int     `json:"upvotes"`
	CommentCount int     `json:"commentCount"`
	Score        float64 `json:"score"`
	Number       int     `json:"number"`
	URL          string  `json:"url"`
}

// Trending is the derived trending cache. It is replaced, never merged.
type Trending struct {
	Trending     []TrendingItem `json:"trending"`
	LastComputed string         `json:"last_computed"`
}

func (t *Trending) fill(now time.Time) {
	if t.Trending == nil {
		t.Trending = []TrendingItem{}
	}
	if t.LastComputed == "" {
		t.LastComputed = Timestamp(now)
	}
}

// LLMUsage is the daily generative-text call counter.
type LLMUsage struct {
	Date  string `json:"date"`
	Calls int    `json:"calls"`
}

func (u *LLMUsage) fill(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if u.Date != today {
		u.Date = today
		u.Calls = 0
	}
}
