package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openlook/gazeline/internal/gaze"
)

// Store wraps the session database. It embeds *sql.DB so callers can run
// ad-hoc queries alongside the typed methods.
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the session database at path. The
// schema is not touched here; run MigrateUp before first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &Store{db}, nil
}

// Session is one tracking run from backend start to shutdown.
type Session struct {
	ID           string  `json:"session_id"`
	SourceKind   string  `json:"source_kind"`
	ScreenWidth  int     `json:"screen_width"`
	ScreenHeight int     `json:"screen_height"`
	StartedAt    int64   `json:"started_at"`
	EndedAt      int64   `json:"ended_at,omitempty"`
	Samples      int64   `json:"sample_count"`
	Hovers       int64   `json:"hover_count"`
	Blinks       int64   `json:"blink_count"`
	JitterRMS    float64 `json:"jitter_rms"`
	Notes        string  `json:"notes,omitempty"`
}

// SessionSummary carries the counters written back when a session ends.
type SessionSummary struct {
	Samples   int64
	Hovers    int64
	Blinks    int64
	JitterRMS float64
}

// HoverEvent is one completed fixation: the dwell point and how long the
// gaze held inside the stability radius before the hover fired.
type HoverEvent struct {
	ID        string  `json:"hover_id"`
	SessionID string  `json:"session_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	DwellNs   int64   `json:"dwell_ns"`
	CreatedAt int64   `json:"created_at"`
}

// BackendEvent is one supervisor state transition observed during a session.
type BackendEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Cause     string `json:"cause,omitempty"`
	Attempt   int    `json:"attempt"`
	CreatedAt int64  `json:"created_at"`
}

// StartSession inserts a new open session and returns its generated ID.
func (s *Store) StartSession(sourceKind string, screenWidth, screenHeight int) (string, error) {
	sessionID := uuid.New().String()
	startedAt := time.Now().UnixNano()

	err := retryOnBusy(func() error {
		_, err := s.Exec(`
			INSERT INTO sessions (session_id, source_kind, screen_width, screen_height, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			sessionID, sourceKind, screenWidth, screenHeight, startedAt,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	return sessionID, nil
}

// EndSession closes an open session and writes its final counters. Ending a
// session that is unknown or already ended is an error.
func (s *Store) EndSession(sessionID string, sum SessionSummary) error {
	return retryOnBusy(func() error {
		result, err := s.Exec(`
			UPDATE sessions
			SET ended_at = ?, sample_count = ?, hover_count = ?, blink_count = ?, jitter_rms = ?
			WHERE session_id = ? AND ended_at IS NULL`,
			time.Now().UnixNano(), sum.Samples, sum.Hovers, sum.Blinks, sum.JitterRMS,
			sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("session %s not found or already ended", sessionID)
		}
		return nil
	})
}

// AnnotateSession attaches free-text notes to a session.
func (s *Store) AnnotateSession(sessionID, notes string) error {
	return retryOnBusy(func() error {
		result, err := s.Exec(`UPDATE sessions SET notes = ? WHERE session_id = ?`, notes, sessionID)
		if err != nil {
			return fmt.Errorf("annotate session: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return nil
	})
}

// RecordHover persists a fired hover and returns its generated ID.
func (s *Store) RecordHover(sessionID string, p gaze.Point, dwell time.Duration) (string, error) {
	hoverID := uuid.New().String()

	err := retryOnBusy(func() error {
		_, err := s.Exec(`
			INSERT INTO hover_events (hover_id, session_id, x, y, dwell_ns, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			hoverID, sessionID, p.X, p.Y, dwell.Nanoseconds(), time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to record hover: %w", err)
	}

	return hoverID, nil
}

// RecordBackendEvent persists a supervisor state transition. State is the
// transition target; cause carries the triggering error text, if any.
func (s *Store) RecordBackendEvent(sessionID, state, cause string, attempt int) error {
	var causeVal interface{}
	if cause != "" {
		causeVal = cause
	}

	err := retryOnBusy(func() error {
		_, err := s.Exec(`
			INSERT INTO backend_events (session_id, state, cause, attempt, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sessionID, state, causeVal, attempt, time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record backend event: %w", err)
	}

	return nil
}

// GetSession returns a single session by ID.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	row := s.QueryRow(`
		SELECT session_id, source_kind, screen_width, screen_height,
		       started_at, ended_at, sample_count, hover_count, blink_count,
		       jitter_rms, notes
		FROM sessions
		WHERE session_id = ?`, sessionID)

	var sess Session
	var endedAt sql.NullInt64
	var notes sql.NullString
	err := row.Scan(
		&sess.ID, &sess.SourceKind, &sess.ScreenWidth, &sess.ScreenHeight,
		&sess.StartedAt, &endedAt, &sess.Samples, &sess.Hovers, &sess.Blinks,
		&sess.JitterRMS, &notes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt = endedAt.Int64
	}
	if notes.Valid {
		sess.Notes = notes.String
	}
	return &sess, nil
}

// RecentSessions returns up to limit sessions, most recently started first.
func (s *Store) RecentSessions(limit int) ([]*Session, error) {
	rows, err := s.Query(`
		SELECT session_id, source_kind, screen_width, screen_height,
		       started_at, ended_at, sample_count, hover_count, blink_count,
		       jitter_rms, notes
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionHovers returns a session's hover events in firing order.
func (s *Store) SessionHovers(sessionID string) ([]*HoverEvent, error) {
	rows, err := s.Query(`
		SELECT hover_id, session_id, x, y, dwell_ns, created_at
		FROM hover_events
		WHERE session_id = ?
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query hover events: %w", err)
	}
	defer rows.Close()

	var hovers []*HoverEvent
	for rows.Next() {
		var h HoverEvent
		if err := rows.Scan(&h.ID, &h.SessionID, &h.X, &h.Y, &h.DwellNs, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hover event: %w", err)
		}
		hovers = append(hovers, &h)
	}
	return hovers, rows.Err()
}

// SessionBackendEvents returns a session's backend transitions in order.
func (s *Store) SessionBackendEvents(sessionID string) ([]*BackendEvent, error) {
	rows, err := s.Query(`
		SELECT session_id, state, cause, attempt, created_at
		FROM backend_events
		WHERE session_id = ?
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query backend events: %w", err)
	}
	defer rows.Close()

	var events []*BackendEvent
	for rows.Next() {
		var e BackendEvent
		var cause sql.NullString
		if err := rows.Scan(&e.SessionID, &e.State, &cause, &e.Attempt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backend event: %w", err)
		}
		if cause.Valid {
			e.Cause = cause.String
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// scanSession scans a session row from a sql.Rows cursor.
func scanSession(rows *sql.Rows) (*Session, error) {
	var sess Session
	var endedAt sql.NullInt64
	var notes sql.NullString
	err := rows.Scan(
		&sess.ID, &sess.SourceKind, &sess.ScreenWidth, &sess.ScreenHeight,
		&sess.StartedAt, &endedAt, &sess.Samples, &sess.Hovers, &sess.Blinks,
		&sess.JitterRMS, &notes,
	)
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt = endedAt.Int64
	}
	if notes.Valid {
		sess.Notes = notes.String
	}
	return &sess, nil
}
