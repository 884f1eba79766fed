package reconcile

import (
	"sort"
	"strconv"
	"time"

	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/state"
)

// TrendingLimit is the number of items kept in the trending document.
const TrendingLimit = 15

// defaultCreatedAt is assumed for records that carry no creation time.
const defaultCreatedAt = "2020-01-01T00:00:00Z"

// Score weighs engagement against age: comments count double, reactions
// once, and the sum decays by 1/(1 + hours/24). The result is rounded to two
// decimal places.
func Score(comments, reactions int, createdAt string, now time.Time) float64 {
	raw := float64(comments*2 + reactions)
	decay := 1.0 / (1.0 + state.HoursSince(createdAt, now)/24.0)
	return round2(raw * decay)
}

// round2 rounds half to even on the exact binary value.
func round2(x float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 2, 64), 64)
	return v
}

// Rank scores records and returns the highest TrendingLimit, best first.
// Records with equal scores keep their input order.
func Rank(records []discussions.Record, now time.Time) []state.TrendingItem {
	items := make([]state.TrendingItem, 0, len(records))
	for _, rec := range records {
		created := rec.CreatedAt
		if created == "" {
			created = defaultCreatedAt
		}
		items = append(items, state.TrendingItem{
			Title:        rec.Title,
			Author:       rec.Author(),
			Channel:      rec.Channel(),
			Upvotes:      rec.Upvotes(),
			CommentCount: rec.Comments,
			Score:        Score(rec.Comments, rec.ReactionTotal(), created, now),
			Number:       rec.Number,
			URL:          rec.URL,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > TrendingLimit {
		items = items[:TrendingLimit]
	}
	return items
}

// trending replaces the trending document.
func (r *Reconciler) trending(now time.Time, records []discussions.Record, res *Result) error {
	doc := &state.Trending{
		Trending:     Rank(records, now),
		LastComputed: state.Timestamp(now),
	}
	res.Trending = len(doc.Trending)
	for i, item := range doc.Trending {
		if i == 5 {
			break
		}
		r.logger.Debug("trending", "rank", i+1, "score", item.Score, "title", item.Title, "comments", item.CommentCount)
	}
	r.logger.Info("computed trending", "items", res.Trending)
	return r.store.Save(state.DocTrending, doc)
}
