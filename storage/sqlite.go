// Package storage persists stream sessions, committed selections and
// detection events in a local SQLite file.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"DetStreamServer/selection"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite history database.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			client TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS selections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			w INTEGER NOT NULL,
			h INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			class TEXT NOT NULL,
			conf REAL NOT NULL,
			infer_ms REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_selections_session ON selections(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_selections_created ON selections(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
		// Add released_at column if missing
		`ALTER TABLE sessions ADD COLUMN released_at DATETIME`,
	}
	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil {
			// ALTER TABLE fails when the column already exists; ignore.
			if strings.Contains(m, "ALTER TABLE") && strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}
	return nil
}

// SessionRow is one stream session as recorded in history.
type SessionRow struct {
	ID         string     `json:"id"`
	Client     string     `json:"client"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// SelectionRow is one committed selection rectangle.
type SelectionRow struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Rect      selection.Rect `json:"rect"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventRow is one detection result.
type EventRow struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Class     string    `json:"class"`
	Conf      float32   `json:"conf"`
	InferMs   float64   `json:"infer_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordSession stores a freshly allocated session.
func (s *Store) RecordSession(id, client string) error {
	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO sessions (id, client, created_at) VALUES (?, ?, ?)`,
		id, client, time.Now().UTC(),
	)
	return err
}

// ReleaseSession marks a session as released.
func (s *Store) ReleaseSession(id string) error {
	_, err := s.conn.Exec(
		`UPDATE sessions SET released_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

// RecordSelection stores a committed rectangle and returns its row id.
func (s *Store) RecordSelection(sessionID string, r selection.Rect) (int64, error) {
	res, err := s.conn.Exec(
		`INSERT INTO selections (session_id, x, y, w, h, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, r.X, r.Y, r.W, r.H, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordEvent stores one detection result.
func (s *Store) RecordEvent(sessionID, class string, conf float32, inferMs float64) error {
	_, err := s.conn.Exec(
		`INSERT INTO events (session_id, class, conf, infer_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, class, conf, inferMs, time.Now().UTC(),
	)
	return err
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]SessionRow, error) {
	rows, err := s.conn.Query(
		`SELECT id, client, created_at, released_at FROM sessions ORDER BY created_at DESC LIMIT ?`,
		normLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.ID, &r.Client, &r.CreatedAt, &r.ReleasedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// ListSelections returns the most recent committed selections, newest first.
func (s *Store) ListSelections(limit int) ([]SelectionRow, error) {
	rows, err := s.conn.Query(
		`SELECT id, session_id, x, y, w, h, created_at FROM selections ORDER BY id DESC LIMIT ?`,
		normLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selections []SelectionRow
	for rows.Next() {
		var r SelectionRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Rect.X, &r.Rect.Y, &r.Rect.W, &r.Rect.H, &r.CreatedAt); err != nil {
			return nil, err
		}
		selections = append(selections, r)
	}
	return selections, rows.Err()
}

// ListEvents returns the most recent detection events, newest first.
func (s *Store) ListEvents(limit int) ([]EventRow, error) {
	rows, err := s.conn.Query(
		`SELECT id, session_id, class, conf, infer_ms, created_at FROM events ORDER BY id DESC LIMIT ?`,
		normLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Class, &r.Conf, &r.InferMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, r)
	}
	return events, rows.Err()
}

// Prune drops selections, events and released sessions older than the cutoff
// and reports how many rows went away.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC()
	var total int64
	for _, q := range []string{
		`DELETE FROM selections WHERE created_at < ?`,
		`DELETE FROM events WHERE created_at < ?`,
		`DELETE FROM sessions WHERE released_at IS NOT NULL AND released_at < ?`,
	} {
		res, err := s.conn.Exec(q, cutoff)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func normLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
