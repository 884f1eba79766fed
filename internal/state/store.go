package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Name identifies a logical document.
type Name string

// Document names.
const (
	DocAgents    Name = "agents"
	DocChannels  Name = "channels"
	DocPokes     Name = "pokes"
	DocChanges   Name = "changes"
	DocStats     Name = "stats"
	DocPostedLog Name = "posted_log"
	DocTrending  Name = "trending"
	DocLLMUsage  Name = "llm_usage"
)

// AllNames lists every document the store knows about, in bootstrap order.
var AllNames = []Name{DocAgents, DocChannels, DocChanges, DocTrending, DocStats, DocPokes, DocPostedLog, DocLLMUsage}

// File returns the document's file name.
func (n Name) File() string {
	return string(n) + ".json"
}

// document is implemented by every typed document.
type document interface {
	fill(now time.Time)
}

// entryChecker is implemented by documents whose entries cannot be
// defaulted when they decode as null.
type entryChecker interface {
	checkEntries() error
}

// Store reads and writes documents under a single directory.
type Store struct {
	dir string
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path of a document.
func (s *Store) Path(name Name) string {
	return filepath.Join(s.dir, name.File())
}

// Exists reports whether the document's file is present.
func (s *Store) Exists(name Name) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// ReadRaw decodes the document into v. It reports false without error when
// the file does not exist.
func (s *Store) ReadRaw(name Name, v any) (bool, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name.File(), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name.File(), err)
	}
	return true, nil
}

// Save replaces the document with v, pretty-printed with a trailing newline.
func (s *Store) Save(name Name, v any) error {
	if err := WriteJSON(s.Path(name), v); err != nil {
		return fmt.Errorf("save %s: %w", name.File(), err)
	}
	return nil
}

// WriteJSON atomically replaces the file at path with v encoded as indented
// JSON.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return WriteFile(path, buf.Bytes())
}

// WriteFile atomically replaces the file at path with data. The bytes are
// written to a temporary file in the same directory and renamed over the
// target.
func WriteFile(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func load[T any, P interface {
	*T
	document
}](s *Store, name Name, now time.Time) (*T, error) {
	doc := P(new(T))
	if _, err := s.ReadRaw(name, doc); err != nil {
		return nil, err
	}
	if c, ok := any(doc).(entryChecker); ok {
		if err := c.checkEntries(); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name.File(), err)
		}
	}
	doc.fill(now)
	return (*T)(doc), nil
}

// LoadAgents loads the agent directory, applying its default shape.
func (s *Store) LoadAgents(now time.Time) (*AgentDirectory, error) {
	return load[AgentDirectory](s, DocAgents, now)
}

// LoadChannels loads the channel directory.
func (s *Store) LoadChannels(now time.Time) (*ChannelDirectory, error) {
	return load[ChannelDirectory](s, DocChannels, now)
}

// LoadPokes loads the pokes document.
func (s *Store) LoadPokes(now time.Time) (*PokeLog, error) {
	return load[PokeLog](s, DocPokes, now)
}

// LoadChanges loads the change log.
func (s *Store) LoadChanges(now time.Time) (*ChangeLog, error) {
	return load[ChangeLog](s, DocChanges, now)
}

// LoadStats loads the stats document.
func (s *Store) LoadStats(now time.Time) (*Stats, error) {
	return load[Stats](s, DocStats, now)
}

// LoadPostedLog loads the posted log.
func (s *Store) LoadPostedLog(now time.Time) (*PostedLog, error) {
	return load[PostedLog](s, DocPostedLog, now)
}

// LoadTrending loads the trending cache.
func (s *Store) LoadTrending(now time.Time) (*Trending, error) {
	return load[Trending](s, DocTrending, now)
}

// LoadLLMUsage loads today's generative-text usage. A counter from a previous
// day is reset.
func (s *Store) LoadLLMUsage(now time.Time) (*LLMUsage, error) {
	return load[LLMUsage](s, DocLLMUsage, now)
}

// Init writes the default shape of every document that does not exist yet.
// Existing documents are left untouched. It returns the names it created.
func (s *Store) Init(now time.Time) ([]Name, error) {
	var created []Name
	for _, name := range AllNames {
		if s.Exists(name) {
			continue
		}
		doc, err := s.defaultDocument(name, now)
		if err != nil {
			return created, err
		}
		if err := s.Save(name, doc); err != nil {
			return created, err
		}
		created = append(created, name)
	}
	return created, nil
}

func (s *Store) defaultDocument(name Name, now time.Time) (any, error) {
	var doc document
	switch name {
	case DocAgents:
		doc = &AgentDirectory{}
	case DocChannels:
		doc = &ChannelDirectory{}
	case DocPokes:
		doc = &PokeLog{}
	case DocChanges:
		doc = &ChangeLog{}
	case DocStats:
		doc = &Stats{}
	case DocPostedLog:
		doc = &PostedLog{}
	case DocTrending:
		doc = &Trending{}
	case DocLLMUsage:
		doc = &LLMUsage{}
	default:
		return nil, fmt.Errorf("unknown document %q", name)
	}
	doc.fill(now)
	return doc, nil
}
