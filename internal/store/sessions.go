package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ampprint/ampprint/internal/charging"
)

// StartSession inserts a new open session row.
func (s *SQLiteStore) StartSession(ctx context.Context, sess *charging.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, charger_id, charger_name, device_name, started_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.ChargerID, sess.ChargerName, sess.DeviceName, sess.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

// AppendReading adds one power sample.
func (s *SQLiteStore) AppendReading(ctx context.Context, sessionID string, r charging.Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (session_id, at, watts) VALUES (?, ?, ?)`,
		sessionID, r.At.UnixMilli(), r.Watts)
	if err != nil {
		return fmt.Errorf("appending reading to %s: %w", sessionID, err)
	}
	return nil
}

// EndSession closes an open session.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("ending session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// GetSession loads one session with all readings in time order.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*charging.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, charger_id, charger_name, device_name, started_at, ended_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if err := s.loadReadings(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ActiveSession returns the open session on a charger, with readings.
func (s *SQLiteStore) ActiveSession(ctx context.Context, chargerID string) (*charging.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, charger_id, charger_name, device_name, started_at, ended_at
		 FROM sessions WHERE charger_id = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, chargerID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no open session on charger %s: %w", chargerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading open session on %s: %w", chargerID, err)
	}
	if err := s.loadReadings(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOpts) ([]*charging.Session, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT id, charger_id, charger_name, device_name, started_at, ended_at FROM sessions`)
	var where []string
	var args []any
	if opts.ChargerID != "" {
		where = append(where, "charger_id = ?")
		args = append(args, opts.ChargerID)
	}
	if opts.ActiveOnly {
		where = append(where, "ended_at IS NULL")
	}
	if opts.CompleteOnly {
		where = append(where, "ended_at IS NOT NULL")
	}
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY started_at DESC")
	if opts.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*charging.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	if opts.WithReadings {
		for _, sess := range out {
			if err := s.loadReadings(ctx, sess); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// SetDeviceName renames one session.
func (s *SQLiteStore) SetDeviceName(ctx context.Context, sessionID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET device_name = ? WHERE id = ?`, name, sessionID)
	if err != nil {
		return fmt.Errorf("renaming session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renaming session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("renaming session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SetDeviceNames renames many sessions atomically.
func (s *SQLiteStore) SetDeviceNames(ctx context.Context, sessionIDs []string, name string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting rename transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE sessions SET device_name = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing rename: %w", err)
	}
	defer stmt.Close()

	for _, id := range sessionIDs {
		if _, err := stmt.ExecContext(ctx, name, id); err != nil {
			return fmt.Errorf("renaming session %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing renames: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*charging.Session, error) {
	var (
		sess      charging.Session
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.ChargerID, &sess.ChargerName, &sess.DeviceName, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		sess.EndedAt = &t
	}
	return &sess, nil
}

func (s *SQLiteStore) loadReadings(ctx context.Context, sess *charging.Session) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, watts FROM readings WHERE session_id = ? ORDER BY at`, sess.ID)
	if err != nil {
		return fmt.Errorf("loading readings for %s: %w", sess.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var at int64
		var r charging.Reading
		if err := rows.Scan(&at, &r.Watts); err != nil {
			return fmt.Errorf("scanning reading for %s: %w", sess.ID, err)
		}
		r.At = time.UnixMilli(at).UTC()
		sess.Readings = append(sess.Readings, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading readings for %s: %w", sess.ID, err)
	}
	return nil
}
