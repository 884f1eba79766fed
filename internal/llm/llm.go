// Package llm is the generative-text capability: one chat completion call
// behind a persisted daily budget, with a deterministic placeholder for dry
// runs and exhausted budgets.
package llm

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
	"sync"
	"time"

	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

const (
	DefaultEndpoint    = "https://models.github.ai/inference/chat/completions"
	DefaultModel       = "openai/gpt-4.1"
	DefaultBudget      = 100
	DefaultMaxTokens   = 300
	DefaultTemperature = 0.85
	maxRetries         = 2
)

// DefaultPreference is tried in order when no model is configured.
var DefaultPreference = []string{
	"anthropic/claude-opus-4-6",
	"anthropic/claude-sonnet-4-5",
	DefaultModel,
}

// ErrNoToken is returned when a real call is attempted without credentials.
var ErrNoToken = errors.New("GITHUB_TOKEN required for LLM generation")

// Config is the generative-text configuration.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"-"`
	Model    string        `yaml:"model"`
	Models   []string      `yaml:"models"`
	Budget   int           `yaml:"budget"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Options tune one generation.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	DryRun      bool
}

// Generator produces text from a system and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string, opts Options) (string, error)
}

// APIError is a non-2xx response from the completion endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether the status is worth another attempt.
func (e *APIError) IsRetryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable
}

// Client calls the completion endpoint.
type Client struct {
	cfg        Config
	store      *state.Store
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration

	mu       sync.Mutex
	resolved string
}

var _ Generator = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the time source used for the budget date.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRetryDelay sets the unit of the linear retry backoff.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New returns a client. The daily usage counter is kept in store.
func New(cfg Config, store *state.Store, opts ...Option) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultPreference
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		now:        time.Now,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the completion for system and user. Dry runs and calls
// over the daily budget return Fallback(system) without contacting the
// endpoint. 429 and 503 responses are retried twice with a linear backoff.
func (c *Client) Generate(ctx context.Context, system, user string, opts Options) (text string, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "llm.generate", telemetry.AttrDryRun.Bool(opts.DryRun))
	defer func() { telemetry.EndSpan(span, err) }()

	if opts.DryRun {
		return Fallback(system), nil
	}
	ok, err := c.withinBudget()
	if err != nil {
		return "", err
	}
	if !ok {
		c.logger.Warn("daily LLM budget exceeded, returning placeholder", "budget", c.cfg.Budget)
		return Fallback(system), nil
	}
	if c.cfg.Token == "" {
		return "", ErrNoToken
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	model := opts.Model
	if model == "" {
		model = c.ResolveModel(ctx)
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	var resp *chatResponse
	for attempt := 0; ; attempt++ {
		resp, err = c.post(ctx, payload)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsRetryable() && attempt < maxRetries {
			wait := time.Duration(attempt+1) * c.retryDelay
			c.logger.Warn("retrying LLM call", "status", apiErr.Status, "attempt", attempt+1, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", err
		}
		break
	}

	if err := c.spend(); err != nil {
		c.logger.Error("record LLM usage", "error", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *Client) post(ctx context.Context, payload []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("LLM API unreachable: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode LLM response: %w", err)
	}
	return &out, nil
}

// ResolveModel picks the model once per client: the configured model, else
// the first preference that answers a one-token request, else DefaultModel.
func (c *Client) ResolveModel(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved != "" {
		return c.resolved
	}
	if c.cfg.Model != "" {
		c.resolved = c.cfg.Model
		return c.resolved
	}
	for _, model := range c.cfg.Models {
		if c.answers(ctx, model) {
			c.resolved = model
			c.logger.Debug("resolved LLM model", "model", model)
			return c.resolved
		}
	}
	c.resolved = DefaultModel
	return c.resolved
}

func (c *Client) answers(ctx context.Context, model string) bool {
	if c.cfg.Token == "" {
		return false
	}
	payload, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  []message{{Role: "user", Content: "hi"}},
		MaxTokens: 1,
	})
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.post(ctx, payload)
	return err == nil && resp.Choices != nil
}

func (c *Client) withinBudget() (bool, error) {
	if c.store == nil {
		return true, nil
	}
	usage, err := c.store.LoadLLMUsage(c.now())
	if err != nil {
		return false, err
	}
	return usage.Calls < c.cfg.Budget, nil
}

func (c *Client) spend() error {
	if c.store == nil {
		return nil
	}
	now := c.now()
	usage, err := c.store.LoadLLMUsage(now)
	if err != nil {
		return err
	}
	usage.Calls++
	return c.store.Save(state.DocLLMUsage, usage)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var fallbackArchetypes = []string{
	"philosopher", "coder", "debater", "welcomer", "curator",
	"storyteller", "researcher", "contrarian", "archivist", "wildcard",
}

// Fallback is the placeholder returned instead of a real completion. The
// archetype is the first known one named in the system prompt.
func Fallback(system string) string {
	arch := "agent"
	lower := strings.ToLower(system)
	for _, name := range fallbackArchetypes {
		if strings.Contains(lower, name) {
			arch = name
			break
		}
	}
	return "[DRY RUN — " + arch + " comment] " +
		"This is a placeholder comment that would be generated by the LLM " +
		"in response to the discussion context provided."
}
