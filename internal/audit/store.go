package audit

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore opens (or creates) the audit database. An empty path
// defaults to <stateDir>/audit.db.
func NewSQLiteStore(dbPath, stateDir string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "audit.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	// WAL plus a busy timeout keeps overlapping hook invocations from
	// tripping over each other.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logger.Debug().Str("path", dbPath).Msg("Opened audit store")
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		cwd TEXT,
		transcript_path TEXT
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tool_name TEXT,
		gate TEXT NOT NULL,
		verdict TEXT NOT NULL,
		message TEXT,
		citation TEXT,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateSession retrieves an existing session or creates a new one
func (s *SQLiteStore) GetOrCreateSession(sessionID, cwd, transcriptPath string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	session, err := s.getSessionLocked(sessionID)
	if err == nil {
		_, err = s.db.Exec(
			"UPDATE sessions SET last_seen_at = ? WHERE session_id = ?",
			now, sessionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
		session.LastSeenAt = time.Unix(now, 0)
		return session, nil
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, created_at, last_seen_at, cwd, transcript_path)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, now, now, cwd, transcriptPath,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		SessionID:      sessionID,
		CreatedAt:      time.Unix(now, 0),
		LastSeenAt:     time.Unix(now, 0),
		Cwd:            cwd,
		TranscriptPath: transcriptPath,
	}, nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(sessionID)
}

func (s *SQLiteStore) getSessionLocked(sessionID string) (*Session, error) {
	var session Session
	var createdAt, lastSeenAt int64

	err := s.db.QueryRow(
		`SELECT session_id, created_at, last_seen_at, cwd, transcript_path
		 FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&session.SessionID, &createdAt, &lastSeenAt, &session.Cwd, &session.TranscriptPath)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastSeenAt = time.Unix(lastSeenAt, 0)
	return &session, nil
}

// ListSessions returns all sessions ordered by last_seen_at
func (s *SQLiteStore) ListSessions() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, created_at, last_seen_at, cwd, transcript_path
		 FROM sessions ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var createdAt, lastSeenAt int64

		if err := rows.Scan(&session.SessionID, &createdAt, &lastSeenAt, &session.Cwd, &session.TranscriptPath); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		session.CreatedAt = time.Unix(createdAt, 0)
		session.LastSeenAt = time.Unix(lastSeenAt, 0)
		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

// DeleteSession removes a session and its decisions
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec("DELETE FROM decisions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete decisions: %w", err)
	}

	_, err = tx.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// RecordDecision appends one gate decision to the trail.
func (s *SQLiteStore) RecordDecision(d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	result, err := s.db.Exec(
		`INSERT INTO decisions (session_id, event_type, tool_name, gate, verdict, message, citation, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID,
		string(d.EventType),
		d.ToolName,
		d.Gate,
		d.Verdict,
		d.Message,
		d.Citation,
		d.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}

// RecentDecisions returns the most recent decisions for a session in
// chronological order.
func (s *SQLiteStore) RecentDecisions(sessionID string, limit int) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, event_type, tool_name, gate, verdict, message, citation, timestamp
		 FROM decisions
		 WHERE session_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var eventType string
		var toolName, message, citation sql.NullString
		var timestamp int64

		if err := rows.Scan(&d.ID, &d.SessionID, &eventType, &toolName, &d.Gate, &d.Verdict, &message, &citation, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		d.EventType = hooks.EventType(eventType)
		d.ToolName = toolName.String
		d.Message = message.String
		d.Citation = citation.String
		d.Timestamp = time.Unix(timestamp, 0)
		decisions = append(decisions, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}
	return decisions, nil
}

// CleanupOldSessions removes sessions older than the given TTL
func (s *SQLiteStore) CleanupOldSessions(ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()

	_, err := s.db.Exec("DELETE FROM decisions WHERE session_id IN (SELECT session_id FROM sessions WHERE last_seen_at < ?)", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old decisions: %w", err)
	}

	result, err := s.db.Exec("DELETE FROM sessions WHERE last_seen_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("ttl", ttl.String()).
			Msg("Cleaned up old sessions")
	}

	return deleted, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MaybeRunCleanup runs TTL cleanup with the configured probability so no
// single invocation pays the cost every time.
func MaybeRunCleanup(store Store, settings config.AuditSettings) {
	if rand.Float64() > settings.CleanupProbability {
		return
	}

	ttl, err := time.ParseDuration(settings.SessionTTL)
	if err != nil {
		ttl = 30 * 24 * time.Hour
	}

	if _, err := store.CleanupOldSessions(ttl); err != nil {
		logger.Debug().Err(err).Msg("Failed to cleanup old sessions")
	}
}
