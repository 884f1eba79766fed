package discussions

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoCategory is returned when neither the requested channel nor
// "general" has a discussion category.
var ErrNoCategory = errors.New("no discussion category")

// Poster creates posts in the discussion category matching a channel slug.
// The repository and category ids are resolved once.
type Poster struct {
	client     *Client
	repoID     string
	categories map[string]string
}

// NewPoster resolves the repository and its categories.
func NewPoster(ctx context.Context, client *Client) (*Poster, error) {
	repoID, err := client.RepositoryID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve repository: %w", err)
	}
	categories, err := client.CategoryIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve categories: %w", err)
	}
	return &Poster{client: client, repoID: repoID, categories: categories}, nil
}

// Categories returns the known category slugs' ids.
func (p *Poster) Categories() map[string]string {
	return p.categories
}

// Post creates a discussion in channel, falling back to "general".
func (p *Poster) Post(ctx context.Context, channel, title, body string) (Created, error) {
	categoryID := p.categories[channel]
	if categoryID == "" {
		categoryID = p.categories["general"]
	}
	if categoryID == "" {
		return Created{}, fmt.Errorf("%w for c/%s", ErrNoCategory, channel)
	}
	return p.client.CreateDiscussion(ctx, p.repoID, categoryID, title, body)
}
