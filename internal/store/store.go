// Package store provides a SQLite-backed consultation history store.
// Each completed consultation — question, answer, and where the spoken
// answer landed — is persisted so operators can review past sessions
// across server restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Consultation is one completed question/answer exchange.
type Consultation struct {
	// SessionID groups consultations from the same caller.
	SessionID string
	// Mode is how the question arrived ("voice" or "text").
	Mode string
	// Question is the recognized or typed question text.
	Question string
	// Answer is the generated answer text.
	Answer string
	// AudioPath is the answer audio file, empty when synthesis failed.
	AudioPath string
	// TTSProvider is the synthesizer that produced the audio, if any.
	TTSProvider string
	// CreatedAt is when the consultation was persisted.
	CreatedAt time.Time
}

// HistoryStore persists and retrieves consultation history keyed by
// session. Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists one consultation.
	Append(ctx context.Context, c *Consultation) error
	// Recent returns the most recent n consultations for the session,
	// ordered oldest-first. If fewer than n exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Consultation, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the consultation history
// database. It resolves to ~/.medvoice/history.db, creating the directory
// if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".medvoice")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS consultations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT    NOT NULL,
    mode          TEXT    NOT NULL CHECK(mode IN ('voice','text')),
    question      TEXT    NOT NULL,
    answer        TEXT    NOT NULL,
    audio_path    TEXT    NOT NULL DEFAULT '',
    tts_provider  TEXT    NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_consultations_session_created
    ON consultations (session_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one consultation.
func (s *SQLiteStore) Append(ctx context.Context, c *Consultation) error {
	const q = `
INSERT INTO consultations (session_id, mode, question, answer, audio_path, tts_provider, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		c.SessionID, c.Mode, c.Question, c.Answer, c.AudioPath, c.TTSProvider, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n consultations for the session, ordered
// oldest-first. Uses a subquery to select the tail then re-order for display.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Consultation, error) {
	const q = `
SELECT session_id, mode, question, answer, audio_path, tts_provider, created_at FROM (
    SELECT id, session_id, mode, question, answer, audio_path, tts_provider, created_at
    FROM   consultations
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var cs []Consultation
	for rows.Next() {
		var c Consultation
		var ts int64
		if err := rows.Scan(&c.SessionID, &c.Mode, &c.Question, &c.Answer, &c.AudioPath, &c.TTSProvider, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		c.CreatedAt = time.Unix(ts, 0)
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return cs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
