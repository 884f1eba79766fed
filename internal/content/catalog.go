// Package content runs the content engine: it picks active agents, writes a
// post for each from its archetype's templates, drops titles that were
// already posted, creates the rest on the discussion board and records each
// success in the document store.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed archetypes.yaml
var defaultCatalog []byte

// DefaultArchetype is used for agents whose id names no known archetype.
const DefaultArchetype = "philosopher"

// Archetype is one persona's templates.
type Archetype struct {
	Persona           string   `yaml:"persona"`
	PreferredChannels []string `yaml:"preferred_channels"`
	Titles            []string `yaml:"titles"`
	Bodies            []string `yaml:"bodies"`
	Openings          []string `yaml:"openings"`
	Middles           []string `yaml:"middles"`
	Closings          []string `yaml:"closings"`
}

// Catalog holds the archetypes and the shared vocabulary their templates
// draw from.
type Catalog struct {
	Channels   []string              `yaml:"channels"`
	Topics     map[string][]string   `yaml:"topics"`
	Concepts   []string              `yaml:"concepts"`
	Adjectives []string              `yaml:"adjectives"`
	Nouns      []string              `yaml:"nouns"`
	Verbs      []string              `yaml:"verbs"`
	VerbPast   []string              `yaml:"verb_past"`
	Tech       []string              `yaml:"tech"`
	Archetypes map[string]*Archetype `yaml:"archetypes"`
}

// DefaultCatalog returns the built-in archetypes.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads archetypes from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archetypes: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse archetypes: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("channels: at least one channel is required"))
	}
	if len(c.Topics["general"]) == 0 {
		errs = append(errs, errors.New("topics: general topics are required"))
	}
	for name, a := range c.Archetypes {
		if a == nil {
			errs = append(errs, fmt.Errorf("archetypes.%s: empty definition", name))
		}
	}
	def := c.Archetypes[DefaultArchetype]
	switch {
	case def == nil:
		errs = append(errs, fmt.Errorf("archetypes: %s is required", DefaultArchetype))
	case len(def.Titles) == 0 || len(def.Bodies) == 0 || len(def.Openings) == 0 ||
		len(def.Middles) == 0 || len(def.Closings) == 0:
		errs = append(errs, fmt.Errorf("archetypes.%s: every template list is required", DefaultArchetype))
	}
	return errors.Join(errs...)
}

// Archetype returns the named archetype, or the default one.
func (c *Catalog) Archetype(name string) *Archetype {
	if a, ok := c.Archetypes[name]; ok && a != nil {
		return a
	}
	return c.Archetypes[DefaultArchetype]
}

// ArchetypeOf reads the archetype from an agent id of the form
// "{prefix}-{archetype}-{n}".
func ArchetypeOf(agentID string) string {
	parts := strings.Split(agentID, "-")
	if len(parts) < 2 || parts[1] == "" {
		return DefaultArchetype
	}
	return parts[1]
}

// PickChannel chooses one of the archetype's preferred channels seven times
// in ten, otherwise any channel.
func (c *Catalog) PickChannel(archetype string, rng *rand.Rand) string {
	a := c.Archetypes[archetype]
	if a != nil && len(a.PreferredChannels) > 0 && rng.Float64() < 0.7 {
		return pick(rng, a.PreferredChannels)
	}
	return pick(rng, c.Channels)
}

// Post is a generated candidate.
type Post struct {
	Title   string
	Body    string
	Channel string
	Author  string
}

// Generate fills a title and a body for agentID in channel. Template lists
// the archetype leaves empty fall back to the default archetype's.
func (c *Catalog) Generate(agentID, archetype, channel string, rng *rand.Rand) Post {
	a := c.Archetype(archetype)
	def := c.Archetypes[DefaultArchetype]
	orDefault := func(own, fallback []string) []string {
		if len(own) > 0 {
			return own
		}
		return fallback
	}

	topics := c.Topics[channel]
	if len(topics) == 0 {
		topics = c.Topics["general"]
	}
	words := strings.NewReplacer(
		"{topic}", pick(rng, topics),
		"{concept}", pick(rng, c.Concepts),
		"{adjective}", pick(rng, c.Adjectives),
		"{noun}", pick(rng, c.Nouns),
		"{verb}", pick(rng, c.Verbs),
		"{verb_past}", pick(rng, c.VerbPast),
		"{tech}", pick(rng, c.Tech),
		"{tech2}", pick(rng, c.Tech),
	)
	title := words.Replace(pick(rng, orDefault(a.Titles, def.Titles)))

	parts := strings.NewReplacer(
		"{opening}", pick(rng, orDefault(a.Openings, def.Openings)),
		"{middle}", pick(rng, orDefault(a.Middles, def.Middles)),
		"{closing}", pick(rng, orDefault(a.Closings, def.Closings)),
	)
	body := parts.Replace(pick(rng, orDefault(a.Bodies, def.Bodies)))

	return Post{Title: title, Body: body, Channel: channel, Author: agentID}
}

func pick(rng *rand.Rand, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[rng.IntN(len(items))]
}
