package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/uxai/idgen"
)

// Session lifecycle actions.
const (
	ActionSessionCreated = "created"
	ActionSessionStopped = "stopped"
	ActionSessionReaped  = "reaped"
)

// SessionEvent is one lifecycle record for a capture session.
type SessionEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

// EventLogger writes session lifecycle events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator overrides the ID generator.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger returns a logger writing to the observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records action for sessionID. A nil logger is a no-op.
func (l *EventLogger) Log(ctx context.Context, sessionID, action string, details map[string]any) error {
	if l == nil {
		return nil
	}
	var detailsJSON sql.NullString
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("observability: marshal details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO session_events (event_id, session_id, action, details, created_at) VALUES (?,?,?,?,?)`,
		l.newID(), sessionID, action, detailsJSON, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("observability: log session event: %w", err)
	}
	return nil
}

// History returns the lifecycle events of sessionID in order. A nil logger
// has no history.
func (l *EventLogger) History(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, session_id, action, details, created_at FROM session_events
		 WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("observability: session history: %w", err)
	}
	defer rows.Close()

	var out []SessionEvent
	for rows.Next() {
		var (
			ev      SessionEvent
			details sql.NullString
			ts      int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Action, &details, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan session event: %w", err)
		}
		ev.At = time.UnixMilli(ts)
		if details.Valid {
			_ = json.Unmarshal([]byte(details.String), &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
