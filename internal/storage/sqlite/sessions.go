package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/skydz/dropwatch/internal/session"
	"github.com/skydz/dropwatch/pkg/logger"
	_ "modernc.org/sqlite"
)

// SessionStore is a SQLite-backed session.Store
type SessionStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStore opens (or creates) the database at dbPath and prepares the schema
func NewSessionStore(dbPath string, log *logger.Logger) (*SessionStore, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite session store",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SessionStore{db: db, logger: storeLogger}, nil
}

// Close closes the database connection
func (s *SessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *SessionStore) GetDB() *sql.DB {
	return s.db
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			requester TEXT NOT NULL,
			channel TEXT NOT NULL,
			aircraft_id TEXT NOT NULL,
			zone_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			last_state TEXT NOT NULL,
			pending_state TEXT NOT NULL DEFAULT '',
			pending_count INTEGER NOT NULL DEFAULT 0,
			last_transition_at TEXT,
			last_poll_at TEXT,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	// One live session per requester, enforced at the database level so
	// concurrent starts cannot both succeed
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_live_requester
		ON sessions(requester)
		WHERE status IN ('PENDING', 'ACTIVE')
	`)
	if err != nil {
		return fmt.Errorf("failed to create live-session index: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)
	`)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	return nil
}

// Create inserts a new session. A prior terminal session with the same ID is
// replaced; a live session for the same requester yields ErrAlreadyActive.
func (s *SessionStore) Create(sess *session.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var liveCount int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE requester = ? AND status IN ('PENDING', 'ACTIVE')`,
		sess.Requester,
	).Scan(&liveCount)
	if err != nil {
		return fmt.Errorf("failed to check for live sessions: %w", err)
	}
	if liveCount > 0 {
		return session.ErrAlreadyActive
	}

	// A terminal session under the same key is history; the new start replaces it
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sess.ID); err != nil {
		return fmt.Errorf("failed to clear terminal session: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (
			id, requester, channel, aircraft_id, zone_id,
			status, last_state, pending_state, pending_count,
			last_transition_at, last_poll_at, consecutive_failures,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID, sess.Requester, sess.Channel, sess.AircraftID, sess.ZoneID,
		string(sess.Status), string(sess.LastState), string(sess.PendingState), sess.PendingCount,
		formatNullableTime(sess.LastTransitionAt), formatNullableTime(sess.LastPollAt),
		sess.ConsecutiveFailures,
		sess.Version,
		sess.CreatedAt.UTC().Format(time.RFC3339),
		sess.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		// The partial unique index is the backstop against racing starts
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return session.ErrAlreadyActive
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session create: %w", err)
	}

	s.logger.Info("Session created",
		logger.String("session_id", sess.ID),
		logger.String("aircraft_id", sess.AircraftID),
		logger.String("zone_id", sess.ZoneID))

	return nil
}

// Get returns the session with the given ID
func (s *SessionStore) Get(id string) (*session.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, requester, channel, aircraft_id, zone_id,
			status, last_state, pending_state, pending_count,
			last_transition_at, last_poll_at, consecutive_failures,
			version, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return sess, nil
}

// Update writes the session back conditionally on expectedVersion. The stored
// version is bumped; a stale expectedVersion yields ErrConflict and the row
// is left untouched.
func (s *SessionStore) Update(sess *session.Session, expectedVersion int64) error {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE sessions SET
			status = ?,
			last_state = ?,
			pending_state = ?,
			pending_count = ?,
			last_transition_at = ?,
			last_poll_at = ?,
			consecutive_failures = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		string(sess.Status), string(sess.LastState), string(sess.PendingState), sess.PendingCount,
		formatNullableTime(sess.LastTransitionAt), formatNullableTime(sess.LastPollAt),
		sess.ConsecutiveFailures,
		now.Format(time.RFC3339),
		sess.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a stale version
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if exists == 0 {
			return session.ErrNotFound
		}
		return session.ErrConflict
	}

	sess.Version = expectedVersion + 1
	sess.UpdatedAt = now
	return nil
}

// Delete removes the session with the given ID
func (s *SessionStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// ListActive returns all sessions with status ACTIVE
func (s *SessionStore) ListActive() ([]*session.Session, error) {
	return s.listByStatus("ACTIVE")
}

// ListResumable returns sessions that should have a running poll loop
// (PENDING and ACTIVE), used to restore monitoring after a restart.
func (s *SessionStore) ListResumable() ([]*session.Session, error) {
	return s.listByStatus("PENDING", "ACTIVE")
}

func (s *SessionStore) listByStatus(statuses ...string) ([]*session.Session, error) {
	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, requester, channel, aircraft_id, zone_id,
			status, last_state, pending_state, pending_count,
			last_transition_at, last_poll_at, consecutive_failures,
			version, created_at, updated_at
		FROM sessions WHERE status IN (%s)
		ORDER BY created_at
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}

	return sessions, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*session.Session, error) {
	var sess session.Session
	var status, lastState, pendingState string
	var lastTransitionAt, lastPollAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&sess.ID, &sess.Requester, &sess.Channel, &sess.AircraftID, &sess.ZoneID,
		&status, &lastState, &pendingState, &sess.PendingCount,
		&lastTransitionAt, &lastPollAt, &sess.ConsecutiveFailures,
		&sess.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = session.Status(status)
	sess.LastState = session.State(lastState)
	sess.PendingState = session.State(pendingState)

	if sess.LastTransitionAt, err = parseNullableTime(lastTransitionAt); err != nil {
		return nil, fmt.Errorf("failed to parse last_transition_at: %w", err)
	}
	if sess.LastPollAt, err = parseNullableTime(lastPollAt); err != nil {
		return nil, fmt.Errorf("failed to parse last_poll_at: %w", err)
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &sess, nil
}

func formatNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s.String)
}
