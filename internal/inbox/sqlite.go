package inbox

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rappterbook/rappterd/internal/state"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - deltas and dead_letters tables
const currentSchemaVersion = 1

// SQLiteQueue stores deltas as rows of a SQLite table.
// Uses WAL mode so a reader can list while a producer inserts.
type SQLiteQueue struct {
	db *sql.DB
}

var _ Queue = (*SQLiteQueue)(nil)

// OpenSQLite creates or opens a queue database at path and applies the
// schema. It is safe to call repeatedly on the same file.
func OpenSQLite(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteQueue{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (q *SQLiteQueue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Put inserts the delta. An existing row with the same id is never replaced;
// the next free suffixed id is used instead.
func (q *SQLiteQueue) Put(ctx context.Context, d Delta) (string, error) {
	body, err := Encode(d)
	if err != nil {
		return "", err
	}
	base := d.FileName()
	enqueuedAt := state.Timestamp(time.Now())
	for n := 1; n <= maxSuffix; n++ {
		id := candidateID(base, n)
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO deltas (id, action, agent_id, timestamp, body, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, string(d.Action), d.AgentID, d.Timestamp, string(body), enqueuedAt)
		if err != nil {
			return "", fmt.Errorf("put %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("put %s: %w", id, err)
		}
		if affected == 1 {
			return id, nil
		}
	}
	return "", errCollisions(base)
}

// List returns pending ids in BINARY order.
func (q *SQLiteQueue) List(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM deltas ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("list deltas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan delta id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deltas: %w", err)
	}
	return ids, nil
}

// Read returns the stored body of a delta.
func (q *SQLiteQueue) Read(ctx context.Context, id string) ([]byte, error) {
	var body string
	err := q.db.QueryRowContext(ctx, `SELECT body FROM deltas WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return []byte(body), nil
}

// Remove deletes a delta row.
func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM deltas WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// DeadLetter inserts a dead-letter row.
func (q *SQLiteQueue) DeadLetter(ctx context.Context, dl DeadLetter) error {
	stampDeadLetter(&dl)
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, delta_id, reason, content, recorded_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, dl.ID, dl.DeltaID, dl.Reason, dl.Content, dl.RecordedAt, dl.RunID)
	if err != nil {
		return fmt.Errorf("dead letter %s: %w", dl.DeltaID, err)
	}
	return nil
}

// DeadLetters returns all dead letters ordered by id, which is time-sortable.
func (q *SQLiteQueue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, delta_id, reason, content, recorded_at, run_id
		FROM dead_letters
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	out := []DeadLetter{}
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.DeltaID, &dl.Reason, &dl.Content, &dl.RecordedAt, &dl.RunID); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (q *SQLiteQueue) verifyPragma(name, expected string) error {
	var value string
	if err := q.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
