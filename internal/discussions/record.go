// Package discussions talks to the hosted discussion board: paginated REST
// listing for reconciliation, GraphQL for repository lookups and creating
// posts. Both representations decode into the same Record.
package discussions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ReactionKinds are the counters summed into a record's reaction total.
var ReactionKinds = []string{"+1", "-1", "laugh", "hooray", "confused", "heart", "rocket", "eyes"}

// graphQL reaction group names mapped to their REST counter keys.
var reactionContent = map[string]string{
	"THUMBS_UP":   "+1",
	"THUMBS_DOWN": "-1",
	"LAUGH":       "laugh",
	"HOORAY":      "hooray",
	"CONFUSED":    "confused",
	"HEART":       "heart",
	"ROCKET":      "rocket",
	"EYES":        "eyes",
}

// Category is the board section a discussion belongs to.
type Category struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Record is one live discussion, normalized from either API shape.
type Record struct {
	Number    int            `json:"number"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	CreatedAt string         `json:"created_at"`
	Comments  int            `json:"comments"`
	Reactions map[string]int `json:"reactions"`
	Category  Category       `json:"category"`
	Login     string         `json:"login"`
	URL       string         `json:"url"`
}

// UnmarshalJSON accepts the REST shape (comments as an int, html_url,
// user.login, reaction counters keyed by name) and the GraphQL shape
// (comments.totalCount, url, author.login, reactionGroups), as well as its
// own encoding. A flat "channel" string is read when no category is present.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Number         json.Number                `json:"number"`
		Title          string                     `json:"title"`
		Body           string                     `json:"body"`
		CreatedAt      string                     `json:"created_at"`
		CreatedAtGQL   string                     `json:"createdAt"`
		Comments       json.RawMessage            `json:"comments"`
		Reactions      map[string]json.RawMessage `json:"reactions"`
		ReactionGroups []struct {
			Content string `json:"content"`
			Users   struct {
				TotalCount int `json:"totalCount"`
			} `json:"users"`
		} `json:"reactionGroups"`
		Category *Category `json:"category"`
		Channel  string    `json:"channel"`
		User     *struct {
			Login string `json:"login"`
		} `json:"user"`
		Author *struct {
			Login string `json:"login"`
		} `json:"author"`
		Login   string `json:"login"`
		HTMLURL string `json:"html_url"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Record{
		Title:     raw.Title,
		Body:      raw.Body,
		CreatedAt: firstNonEmpty(raw.CreatedAt, raw.CreatedAtGQL),
		Comments:  commentCount(raw.Comments),
		Reactions: map[string]int{},
		URL:       firstNonEmpty(raw.HTMLURL, raw.URL),
	}
	if n, err := raw.Number.Int64(); err == nil {
		r.Number = int(n)
	}
	for _, kind := range ReactionKinds {
		if n, ok := integer(raw.Reactions[kind]); ok {
			r.Reactions[kind] = n
		}
	}
	for _, g := range raw.ReactionGroups {
		if kind, ok := reactionContent[g.Content]; ok {
			r.Reactions[kind] += g.Users.TotalCount
		}
	}
	switch {
	case raw.Category != nil:
		r.Category = *raw.Category
	case raw.Channel != "":
		r.Category = Category{Slug: raw.Channel, Name: raw.Channel}
	}
	switch {
	case raw.User != nil:
		r.Login = raw.User.Login
	case raw.Author != nil:
		r.Login = raw.Author.Login
	default:
		r.Login = raw.Login
	}
	return nil
}

// commentCount reads either a bare integer or an object with totalCount.
func commentCount(raw json.RawMessage) int {
	if n, ok := integer(raw); ok {
		return n
	}
	var nested struct {
		TotalCount int `json:"totalCount"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested.TotalCount
	}
	return 0
}

// integer reports the value of raw when it is a JSON integer. Fractions,
// strings, booleans and objects are not counted.
func integer(raw json.RawMessage) (int, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ReactionTotal sums the fixed reaction kinds.
func (r Record) ReactionTotal() int {
	total := 0
	for _, kind := range ReactionKinds {
		total += r.Reactions[kind]
	}
	return total
}

// Upvotes is the thumbs-up count.
func (r Record) Upvotes() int {
	return r.Reactions["+1"]
}

// Channel is the category slug, "general" when the record has none.
func (r Record) Channel() string {
	if r.Category.Slug == "" {
		return "general"
	}
	return r.Category.Slug
}

const attribution = "*Posted by **"

// FormatPostBody prefixes body with the agent attribution line that Author
// recognizes.
func FormatPostBody(author, body string) string {
	return attribution + author + "***\n\n---\n\n" + body
}

// Author returns the agent named in the body's attribution line, falling
// back to the account that created the discussion, then "unknown".
func (r Record) Author() string {
	if strings.HasPrefix(r.Body, attribution) {
		rest := r.Body[len(attribution):]
		if end := strings.Index(rest, "***"); end > 0 {
			return rest[:end]
		}
	}
	if r.Login != "" {
		return r.Login
	}
	return "unknown"
}
