// Package store provides the SQLite persistence layer for charging sessions.
//
// Sessions and their power readings live in a single SQLite database file.
// The device-group collection is NOT stored here: it is authoritative in
// memory and persisted separately as an atomic JSON snapshot (see
// SnapshotFile), because group membership is rebuilt wholesale while session
// history only ever grows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ampprint/ampprint/internal/charging"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.ampprint/ampprint.db"

// ErrNotFound is returned when a session id matches nothing.
var ErrNotFound = errors.New("session not found")

// ListOpts filters and pages session listings.
type ListOpts struct {
	ChargerID    string
	ActiveOnly   bool
	CompleteOnly bool
	WithReadings bool
	Limit        int
	Offset       int
}

// Stats holds row counts for the diagnostics surface.
type Stats struct {
	Sessions       int64 `json:"sessions"`
	ActiveSessions int64 `json:"active_sessions"`
	Readings       int64 `json:"readings"`
}

// Store is the session persistence interface.
type Store interface {
	// StartSession inserts a new, still-open session.
	StartSession(ctx context.Context, s *charging.Session) error
	// AppendReading adds one power sample to a session.
	AppendReading(ctx context.Context, sessionID string, r charging.Reading) error
	// EndSession closes an open session. Closing a missing or already
	// closed session returns ErrNotFound.
	EndSession(ctx context.Context, sessionID string, at time.Time) error

	// GetSession loads one session with all readings.
	GetSession(ctx context.Context, id string) (*charging.Session, error)
	// ActiveSession returns the open session on a charger, if any.
	ActiveSession(ctx context.Context, chargerID string) (*charging.Session, error)
	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, opts ListOpts) ([]*charging.Session, error)

	// SetDeviceName renames one session.
	SetDeviceName(ctx context.Context, sessionID, name string) error
	// SetDeviceNames renames many sessions in one transaction, for name
	// propagation after group renames and merges.
	SetDeviceNames(ctx context.Context, sessionIDs []string, name string) error

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Config holds settings for New.
type Config struct {
	DBPath string
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// New opens (creating if needed) the session database.
// Pass ":memory:" for in-memory databases (testing).
func New(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// migrate creates the schema if it does not exist. All timestamps are unix
// milliseconds UTC; ended_at is NULL while a session is open.
func (s *SQLiteStore) migrate() error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	charger_id   TEXT NOT NULL,
	charger_name TEXT NOT NULL DEFAULT '',
	device_name  TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	ended_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_charger ON sessions(charger_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(charger_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS readings (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	at         INTEGER NOT NULL,
	watts      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_session ON readings(session_id, at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats reports row counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(ended_at IS NULL), 0) FROM sessions`)
	if err := row.Scan(&st.Sessions, &st.ActiveSessions); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`)
	if err := row.Scan(&st.Readings); err != nil {
		return nil, fmt.Errorf("counting readings: %w", err)
	}
	return st, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
