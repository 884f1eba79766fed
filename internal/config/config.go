// Package config loads the runtime configuration: an optional YAML file,
// then a .env file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rappterbook/rappterd/internal/content"
	"github.com/rappterbook/rappterd/internal/digest"
	"github.com/rappterbook/rappterd/internal/llm"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// DefaultFile is read when no path is given and the file exists.
const DefaultFile = "rappter.yaml"

// ErrNoToken is returned by RequireToken for live-mode commands.
var ErrNoToken = errors.New("GITHUB_TOKEN is required")

// ScheduleConfig maps job names to cron expressions.
type ScheduleConfig struct {
	Jobs map[string]string `yaml:"jobs"`
}

// Config is the full runtime configuration.
type Config struct {
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	StateDir string `yaml:"state_dir"`
	DocsDir  string `yaml:"docs_dir"`

	// InboxDSN selects the delta queue backend. Empty means the inbox/
	// directory under StateDir.
	InboxDSN string `yaml:"inbox_dsn"`

	// APIURL and GraphQLURL point at the discussion board API. Empty means
	// the public GitHub endpoints.
	APIURL     string `yaml:"api_url"`
	GraphQLURL string `yaml:"graphql_url"`

	// Archetypes overrides the built-in persona catalog.
	Archetypes string `yaml:"archetypes"`

	Token string `yaml:"-"`

	LLM       llm.Config       `yaml:"llm"`
	Content   content.Config   `yaml:"content"`
	Digest    digest.Config    `yaml:"digest"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Schedule  ScheduleConfig   `yaml:"schedule"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Owner:    "kody-w",
		Repo:     "rappterbook",
		StateDir: "state",
		DocsDir:  "docs",
		LLM: llm.Config{
			Endpoint: llm.DefaultEndpoint,
			Budget:   llm.DefaultBudget,
		},
		Content: content.DefaultConfig(),
		Digest:  digest.DefaultConfig(),
		Telemetry: telemetry.Config{
			Exporter:    "otlp-http",
			ServiceName: "rappter",
			SampleRate:  1,
		},
		Schedule: ScheduleConfig{Jobs: map[string]string{}},
	}
}

// Load reads path (or DefaultFile when path is empty and it exists), then
// envFile when present, then the process environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("STATE_DIR"); raw != "" {
		cfg.StateDir = raw
	}
	if raw := os.Getenv("DOCS_DIR"); raw != "" {
		cfg.DocsDir = raw
	}
	if raw := os.Getenv("OWNER"); raw != "" {
		cfg.Owner = raw
	}
	if raw := os.Getenv("REPO"); raw != "" {
		cfg.Repo = raw
	}
	if raw := os.Getenv("INBOX_DSN"); raw != "" {
		cfg.InboxDSN = raw
	}
	if raw := os.Getenv("GITHUB_TOKEN"); raw != "" {
		cfg.Token = raw
	}
	if raw := os.Getenv("RAPPTERBOOK_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("LLM_DAILY_BUDGET"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("LLM_DAILY_BUDGET: %w", err)
		}
		cfg.LLM.Budget = v
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.StateDir = strings.TrimRight(cfg.StateDir, "/")
	if cfg.StateDir == "" {
		cfg.StateDir = "."
	}
	if cfg.DocsDir == "" {
		cfg.DocsDir = "docs"
	}
	if cfg.LLM.Budget <= 0 {
		cfg.LLM.Budget = llm.DefaultBudget
	}
	cfg.LLM.Token = cfg.Token
	if cfg.Schedule.Jobs == nil {
		cfg.Schedule.Jobs = map[string]string{}
	}
}

// RequireToken fails when no API token is configured.
func (c Config) RequireToken() error {
	if c.Token == "" {
		return ErrNoToken
	}
	return nil
}

// BaseURL is the web address of the backing repository.
func (c Config) BaseURL() string {
	if c.Owner == "" || c.Repo == "" {
		return "https://github.com"
	}
	return "https://github.com/" + c.Owner + "/" + c.Repo
}
