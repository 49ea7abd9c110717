// Package store persists exported telemetry (closed snapshots, their
// vectors and classifications) in SQLite. A Store is also a capture sink.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/dbopen"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the telemetry database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// New wraps an already opened database. The schema must be applied.
func New(db *sql.DB) *Store { return &Store{DB: db} }

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// Session is one capture session row.
type Session struct {
	ID        string     `json:"id"`
	Origin    string     `json:"origin,omitempty"`
	Layout    int        `json:"layout"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// VectorRow is one stored snapshot vector.
type VectorRow struct {
	SnapshotID string          `json:"snapshot_id"`
	SessionID  string          `json:"session_id"`
	Seq        int             `json:"seq"`
	Layout     int             `json:"layout"`
	CreatedAt  time.Time       `json:"created_at"`
	ClosedAt   time.Time       `json:"closed_at"`
	Vector     snapshot.Vector `json:"vector"`
}

// CreateSession inserts a session. An existing row is left untouched.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	if sess.State == "" {
		sess.State = "active"
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, origin, layout, state, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET origin = excluded.origin, layout = excluded.layout`,
		sess.ID, sess.Origin, sess.Layout, sess.State, sess.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// EndSession records the final state of a session.
func (s *Store) EndSession(ctx context.Context, id, state string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET state = ?, ended_at = ? WHERE id = ?`, state, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: end session %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, origin, layout, state, created_at, ended_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, origin, layout, state, created_at, ended_at FROM sessions
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess    Session
		created int64
		ended   sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &sess.Origin, &sess.Layout, &sess.State, &created, &ended); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(created)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// SendSnapshot stores a closed snapshot and its vector.
func (s *Store) SendSnapshot(ctx context.Context, c snapshot.Closed) error {
	vec, err := json.Marshal(c.Vector)
	if err != nil {
		return fmt.Errorf("store: marshal vector: %w", err)
	}
	raw, err := json.Marshal(c.Snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, c.SessionID, c.Layout, c.Snapshot.Context.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO snapshots (id, session_id, seq, layout, created_at, closed_at, vector, snapshot)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Snapshot.ID, c.SessionID, c.Snapshot.Seq, c.Layout,
			c.Snapshot.Context.CreatedAt.UnixMilli(), c.Snapshot.ClosedAt.UnixMilli(),
			string(vec), string(raw))
		if err != nil {
			return fmt.Errorf("store: insert snapshot: %w", err)
		}
		return nil
	})
}

// SendClassification stores one classification.
func (s *Store) SendClassification(ctx context.Context, c snapshot.Classification) error {
	scores, err := json.Marshal(c.Scores)
	if err != nil {
		return fmt.Errorf("store: marshal scores: %w", err)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, c.SessionID, 0, c.At); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO classifications (id, session_id, seq, label, scores, window_size, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SessionID, c.Seq, string(c.Label), string(scores), c.Window, c.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("store: insert classification: %w", err)
		}
		return nil
	})
}

// ensureSession creates the parent row for data from sessions that were
// never registered, such as uxwatch runs.
func ensureSession(ctx context.Context, tx *sql.Tx, id string, layout int, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, layout, created_at) VALUES (?, ?, ?)`,
		id, layout, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: ensure session: %w", err)
	}
	return nil
}

// Vectors returns stored vectors of a session with seq > afterSeq, in
// capture order.
func (s *Store) Vectors(ctx context.Context, sessionID string, afterSeq, limit int) ([]VectorRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, seq, layout, created_at, closed_at, vector FROM snapshots
		 WHERE session_id = ? AND seq > ? ORDER BY seq LIMIT ?`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query vectors: %w", err)
	}
	defer rows.Close()

	var out []VectorRow
	for rows.Next() {
		var (
			r               VectorRow
			created, closed int64
			vec             string
		)
		if err := rows.Scan(&r.SnapshotID, &r.SessionID, &r.Seq, &r.Layout, &created, &closed, &vec); err != nil {
			return nil, fmt.Errorf("store: scan vector: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &r.Vector); err != nil {
			return nil, fmt.Errorf("store: decode vector %s: %w", r.SnapshotID, err)
		}
		r.CreatedAt = time.UnixMilli(created)
		r.ClosedAt = time.UnixMilli(closed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Classifications returns the classifications of a session in order.
func (s *Store) Classifications(ctx context.Context, sessionID string, limit int) ([]snapshot.Classification, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, seq, label, scores, window_size, at FROM classifications
		 WHERE session_id = ? ORDER BY seq LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query classifications: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Classification
	for rows.Next() {
		var (
			c      snapshot.Classification
			label  string
			scores string
			at     int64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Seq, &label, &scores, &c.Window, &at); err != nil {
			return nil, fmt.Errorf("store: scan classification: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &c.Scores); err != nil {
			return nil, fmt.Errorf("store: decode scores %s: %w", c.ID, err)
		}
		c.Label = snapshot.Label(label)
		c.At = time.UnixMilli(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LabelCounts tallies classifications per label for a session.
func (s *Store) LabelCounts(ctx context.Context, sessionID string) (map[snapshot.Label]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT label, COUNT(*) FROM classifications WHERE session_id = ? GROUP BY label`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: label counts: %w", err)
	}
	defer rows.Close()

	out := make(map[snapshot.Label]int)
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("store: scan label count: %w", err)
		}
		out[snapshot.Label(label)] = n
	}
	return out, rows.Err()
}

// Purge deletes sessions that ended before cutoff, with their data. Sessions
// still capturing are never purged.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return res.RowsAffected()
}
