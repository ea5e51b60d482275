// Package audit persists the append-only trail of gate decisions. The
// trail doubles as the bounded session context handed to the custodiet
// compliance check.
package audit

import (
	"time"

	"github.com/ihavespoons/gatehouse/internal/hooks"
)

// Session is one tracked session in the audit store.
type Session struct {
	SessionID      string
	CreatedAt      time.Time
	LastSeenAt     time.Time
	Cwd            string
	TranscriptPath string
}

// Decision is one recorded gate decision.
type Decision struct {
	ID        int64
	SessionID string
	EventType hooks.EventType
	ToolName  string
	Gate      string
	Verdict   string
	Message   string
	Citation  string
	Timestamp time.Time
}

// Store defines the audit persistence interface.
type Store interface {
	GetOrCreateSession(sessionID, cwd, transcriptPath string) (*Session, error)
	GetSession(sessionID string) (*Session, error)
	ListSessions() ([]*Session, error)
	DeleteSession(sessionID string) error

	RecordDecision(d *Decision) error
	RecentDecisions(sessionID string, limit int) ([]*Decision, error)

	CleanupOldSessions(ttl time.Duration) (int64, error)

	Close() error
}
