package discussions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rappterbook/rappterd/internal/telemetry"
)

const (
	DefaultAPIURL     = "https://api.github.com"
	DefaultGraphQLURL = "https://api.github.com/graphql"
	pageSize          = 100
)

// ClientOptions configures a Client.
type ClientOptions struct {
	APIURL     string
	GraphQLURL string
	Owner      string
	Repo       string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a thin discussion board API client.
type Client struct {
	apiURL     string
	graphqlURL string
	owner      string
	repo       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a client for owner/repo.
func NewClient(opts ClientOptions) *Client {
	apiURL := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	graphqlURL := strings.TrimSpace(opts.GraphQLURL)
	if graphqlURL == "" {
		graphqlURL = DefaultGraphQLURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:     apiURL,
		graphqlURL: graphqlURL,
		owner:      opts.Owner,
		repo:       opts.Repo,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     logger,
	}
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discussions api: status=%d message=%s", e.Status, e.Body)
}

// PartialError reports a listing cut short by a non-2xx page. FetchAll
// returns it together with the records fetched before that page.
type PartialError struct {
	Page    int
	Fetched int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("discussions listing stopped at page %d after %d records: %v", e.Page, e.Fetched, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// IsPartial reports whether err is a PartialError.
func IsPartial(err error) bool {
	var p *PartialError
	return errors.As(err, &p)
}

// FetchAll lists every discussion, newest first, one page of 100 at a time.
// Paging stops at an empty or short page. A non-2xx page ends the listing
// with a *PartialError and the records gathered so far; transport and decode
// errors return no records.
func (c *Client) FetchAll(ctx context.Context) (records []Record, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "discussions.fetch_all")
	defer func() {
		span.SetAttributes(telemetry.AttrCount.Int(len(records)))
		telemetry.EndSpan(span, err)
	}()

	records = []Record{}
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/discussions?per_page=%d&page=%d&sort=created&direction=desc",
			c.apiURL, c.owner, c.repo, pageSize, page)
		var batch []Record
		err := c.getJSON(ctx, url, &batch)
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.logger.Warn("discussions page failed", "page", page, "status", statusErr.Status)
			return records, &PartialError{Page: page, Fetched: len(records), Err: err}
		}
		if err != nil {
			return nil, fmt.Errorf("fetch discussions page %d: %w", page, err)
		}
		if len(batch) == 0 {
			return records, nil
		}
		records = append(records, batch...)
		if len(batch) < pageSize {
			return records, nil
		}
	}
}

// FetchRecent lists the newest discussions, at most limit and never more
// than one page.
func (c *Client) FetchRecent(ctx context.Context, limit int) (records []Record, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "discussions.fetch_recent")
	defer func() {
		span.SetAttributes(telemetry.AttrCount.Int(len(records)))
		telemetry.EndSpan(span, err)
	}()

	if limit <= 0 || limit > pageSize {
		limit = pageSize
	}
	url := fmt.Sprintf("%s/repos/%s/%s/discussions?per_page=%d&page=1&sort=created&direction=desc",
		c.apiURL, c.owner, c.repo, limit)
	records = []Record{}
	if err := c.getJSON(ctx, url, &records); err != nil {
		return nil, fmt.Errorf("fetch recent discussions: %w", err)
	}
	return records, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type graphQLError struct {
	Message string `json:"message"`
}

// graphql runs query and decodes its data member into out.
func (c *Client) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := c.do(req, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

const repositoryIDQuery = `query($owner: String!, $repo: String!) {
  repository(owner: $owner, name: $repo) { id }
}`

// RepositoryID returns the repository's node id.
func (c *Client) RepositoryID(ctx context.Context) (id string, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "discussions.repository_id")
	defer func() { telemetry.EndSpan(span, err) }()

	var data struct {
		Repository struct {
			ID string `json:"id"`
		} `json:"repository"`
	}
	if err := c.graphql(ctx, repositoryIDQuery, c.repoVars(), &data); err != nil {
		return "", err
	}
	if data.Repository.ID == "" {
		return "", fmt.Errorf("repository %s/%s not found", c.owner, c.repo)
	}
	return data.Repository.ID, nil
}

const categoriesQuery = `query($owner: String!, $repo: String!) {
  repository(owner: $owner, name: $repo) {
    discussionCategories(first: 50) {
      nodes { id, slug, name }
    }
  }
}`

// CategoryIDs maps discussion category slugs to node ids.
func (c *Client) CategoryIDs(ctx context.Context) (ids map[string]string, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "discussions.category_ids")
	defer func() { telemetry.EndSpan(span, err) }()

	var data struct {
		Repository struct {
			DiscussionCategories struct {
				Nodes []struct {
					ID   string `json:"id"`
					Slug string `json:"slug"`
				} `json:"nodes"`
			} `json:"discussionCategories"`
		} `json:"repository"`
	}
	if err := c.graphql(ctx, categoriesQuery, c.repoVars(), &data); err != nil {
		return nil, err
	}
	ids = map[string]string{}
	for _, n := range data.Repository.DiscussionCategories.Nodes {
		ids[n.Slug] = n.ID
	}
	return ids, nil
}

const createDiscussionMutation = `mutation($repoId: ID!, $categoryId: ID!, $title: String!, $body: String!) {
  createDiscussion(input: {
    repositoryId: $repoId, categoryId: $categoryId,
    title: $title, body: $body
  }) {
    discussion { id, number, url }
  }
}`

// Created identifies a discussion the client created.
type Created struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// CreateDiscussion opens a new discussion in the given category.
func (c *Client) CreateDiscussion(ctx context.Context, repoID, categoryID, title, body string) (created Created, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "discussions.create")
	defer func() { telemetry.EndSpan(span, err) }()

	var data struct {
		CreateDiscussion struct {
			Discussion Created `json:"discussion"`
		} `json:"createDiscussion"`
	}
	vars := map[string]any{"repoId": repoID, "categoryId": categoryID, "title": title, "body": body}
	if err := c.graphql(ctx, createDiscussionMutation, vars, &data); err != nil {
		return Created{}, err
	}
	return data.CreateDiscussion.Discussion, nil
}

func (c *Client) repoVars() map[string]any {
	return map[string]any{"owner": c.owner, "repo": c.repo}
}
