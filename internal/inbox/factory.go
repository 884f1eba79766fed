package inbox

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned by Open for DSN schemes without a backend.
var ErrUnsupportedScheme = errors.New("unsupported inbox scheme")

// Open builds a queue from a DSN. An empty DSN selects a directory queue at
// defaultDir. Recognized forms:
//
//	/path/to/inbox, dir:///path, file:///path  directory queue
//	sqlite:///path/inbox.db, sqlite3:inbox.db   SQLite queue
func Open(dsn, defaultDir string) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewDirQueue(defaultDir)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse inbox dsn: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "dir", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewDirQueue(path)
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	} else if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		return "", fmt.Errorf("inbox dsn %q has no path", raw)
	}
	return path, nil
}
