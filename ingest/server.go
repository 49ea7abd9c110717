// Package ingest runs capture engines on behalf of browser pages. A page
// creates a session, receives a signed token, and posts batches of raw
// events; the server feeds them to that session's engine and reaps engines
// that stop reporting.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uxai/auth"
	"github.com/hazyhaar/uxai/capture"
	"github.com/hazyhaar/uxai/capture/encode"
	"github.com/hazyhaar/uxai/capture/predict"
	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/horosafe"
	"github.com/hazyhaar/uxai/idgen"
	"github.com/hazyhaar/uxai/observability"
	"github.com/hazyhaar/uxai/shield"
	"github.com/hazyhaar/uxai/store"
)

var (
	ErrSessionNotFound = errors.New("ingest: session not found")
	ErrTooManySessions = errors.New("ingest: session limit reached")
	ErrBatchTooLarge   = errors.New("ingest: batch too large")
)

// Config configures the ingest server.
type Config struct {
	// Engine is the template for every session's engine. SessionID and
	// Predictor are set per session.
	Engine capture.Config
	// Predictor is shared by all engines. Nil leaves them unclassified.
	Predictor predict.Predictor
	// Sinks receive every session's snapshots and classifications.
	Sinks []capture.Sink
	// Store, when set, records sessions and serves history queries.
	Store *store.Store

	Secret         []byte
	AdminKeyHash   string
	PublicURL      string
	SessionTTL     time.Duration
	TokenTTL       time.Duration
	MaxSessions    int
	MaxBatch       int
	MaxBody        int64
	RateLimit      int // session creations per minute per IP, 0 disables
	AllowedOrigins []string

	Metrics *observability.MetricsManager
	Events  *observability.EventLogger
	Logger  *slog.Logger
	NewID   idgen.Generator
}

func (c *Config) defaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 12 * time.Hour
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 500
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewID == nil {
		c.NewID = idgen.Default
	}
}

type entry struct {
	eng      *capture.Engine
	origin   string
	layout   encode.Layout
	created  time.Time
	lastSeen atomic.Int64
}

func (e *entry) touch(t time.Time) { e.lastSeen.Store(t.UnixNano()) }

// Server is the session registry and its HTTP/MCP surfaces.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *shield.RateLimiter
	mcp     *mcp.Server
	prom    *promMetrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// New validates cfg and returns a Server with no sessions.
func New(cfg Config) (*Server, error) {
	cfg.defaults()
	if err := horosafe.ValidateSecret(cfg.Secret); err != nil {
		return nil, fmt.Errorf("ingest: session secret: %w", err)
	}
	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		limiter:  shield.NewRateLimiter(cfg.RateLimit, time.Minute),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	s.prom = newPromMetrics(s)
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "uxaid", Version: "1.0.0"}, nil)
	s.RegisterMCP(s.mcp)
	return s, nil
}

// SessionCreated is returned to the page that opened a session.
type SessionCreated struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Layout    int       `json:"layout"`
	Fields    []string  `json:"fields"`
	Window    int       `json:"window"`
}

// CreateSession starts an engine for a page. layout may be empty for the
// configured default.
func (s *Server) CreateSession(ctx context.Context, origin, layout string) (*SessionCreated, error) {
	lay := s.cfg.Engine.Layout
	if layout != "" || lay.Width() == 0 {
		l, err := encode.ParseLayout(layout)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		lay = l
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("ingest: server closed")
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s.mu.Unlock()

	ecfg := s.cfg.Engine
	ecfg.SessionID = "sess_" + s.cfg.NewID()
	ecfg.Layout = lay
	ecfg.Predictor = s.cfg.Predictor

	eng, err := capture.New(ecfg,
		capture.WithLogger(s.logger),
		capture.WithSink(s.cfg.Sinks...),
		capture.WithMetrics(s.cfg.Metrics),
		capture.WithIDGenerator(s.cfg.NewID),
	)
	if err != nil {
		return nil, err
	}

	token, err := auth.GenerateToken(s.cfg.Secret, &auth.SessionClaims{
		SessionID: eng.SessionID(),
		Origin:    origin,
		Layout:    lay.Version,
	}, s.cfg.TokenTTL)
	if err != nil {
		eng.Stop()
		return nil, fmt.Errorf("ingest: %w", err)
	}

	now := s.now()
	e := &entry{eng: eng, origin: origin, layout: lay, created: now}
	e.touch(now)

	s.mu.Lock()
	if s.closed || len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		eng.Stop()
		return nil, ErrTooManySessions
	}
	s.sessions[eng.SessionID()] = e
	s.mu.Unlock()
	s.prom.created.Inc()

	if s.cfg.Store != nil {
		if err := s.cfg.Store.CreateSession(ctx, store.Session{
			ID: eng.SessionID(), Origin: origin, Layout: lay.Version, CreatedAt: now,
		}); err != nil {
			s.logger.Warn("ingest: record session", "session_id", eng.SessionID(), "error", err)
		}
	}
	s.logEvent(ctx, eng.SessionID(), observability.ActionSessionCreated, map[string]any{
		"origin": origin, "layout": lay.Name,
	})
	s.logger.Info("ingest: session created", "session_id", eng.SessionID(), "origin", origin, "layout", lay.Name)

	return &SessionCreated{
		ID:        eng.SessionID(),
		Token:     token,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		Layout:    lay.Version,
		Fields:    lay.FieldNames(),
		Window:    eng.WindowSize(),
	}, nil
}

func (s *Server) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// ObserveResult reports how much of a batch reached the engine.
type ObserveResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// Observe forwards a batch of raw events to a live session.
func (s *Server) Observe(id string, evs []snapshot.Event) (*ObserveResult, error) {
	if len(evs) > s.cfg.MaxBatch {
		return nil, fmt.Errorf("%w: %d events, max %d", ErrBatchTooLarge, len(evs), s.cfg.MaxBatch)
	}
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.touch(s.now())
	n := e.eng.ObserveBatch(evs)
	s.prom.observed(n, len(evs)-n)
	return &ObserveResult{Accepted: n, Dropped: len(evs) - n}, nil
}

// SessionStatus describes a live session.
type SessionStatus struct {
	ID        string           `json:"id"`
	State     string           `json:"state"`
	Origin    string           `json:"origin,omitempty"`
	Layout    int              `json:"layout"`
	CreatedAt time.Time        `json:"created_at"`
	LastSeen  time.Time        `json:"last_seen"`
	Encoded   int              `json:"encoded"`
	Labels    []snapshot.Label `json:"labels"`
	Stats     capture.Stats    `json:"stats"`
}

func (e *entry) status() SessionStatus {
	return SessionStatus{
		ID:        e.eng.SessionID(),
		State:     e.eng.State().String(),
		Origin:    e.origin,
		Layout:    e.layout.Version,
		CreatedAt: e.created,
		LastSeen:  time.Unix(0, e.lastSeen.Load()),
		Encoded:   e.eng.Encoded(),
		Labels:    e.eng.Labels(),
		Stats:     e.eng.Stats(),
	}
}

// Status returns the state of a live session.
func (s *Server) Status(id string) (*SessionStatus, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	st := e.status()
	return &st, nil
}

// StopSession deactivates a session and forgets it. action is recorded in
// the session event log (stopped or reaped).
func (s *Server) StopSession(ctx context.Context, id, action string) (*SessionStatus, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.eng.Stop()
	st := e.status()
	s.prom.ended.WithLabelValues(action).Inc()

	if s.cfg.Store != nil {
		if err := s.cfg.Store.EndSession(ctx, id, action, s.now()); err != nil {
			s.logger.Warn("ingest: record session end", "session_id", id, "error", err)
		}
	}
	s.logEvent(ctx, id, action, map[string]any{"encoded": st.Encoded, "labels": len(st.Labels)})
	s.logger.Info("ingest: session ended", "session_id", id, "action", action, "encoded", st.Encoded)
	return &st, nil
}

// Live lists the live sessions.
func (s *Server) Live() []SessionStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]SessionStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	return out
}

// Len is the number of live sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap stops sessions idle for longer than the session TTL at now.
func (s *Server) Reap(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.cfg.SessionTTL).UnixNano()
	var idle []string
	s.mu.Lock()
	for id, e := range s.sessions {
		if e.lastSeen.Load() < cutoff {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range idle {
		if _, err := s.StopSession(ctx, id, observability.ActionSessionReaped); err == nil {
			n++
		}
	}
	return n
}

// Run reaps idle sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	every := min(s.cfg.SessionTTL/4, time.Minute)
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)
	s.limiter.StartGC(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Reap(ctx, s.now()); n > 0 {
				s.logger.Info("ingest: reaped idle sessions", "count", n)
			}
		}
	}
}

// Close stops every live session.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.StopSession(context.Background(), id, observability.ActionSessionStopped)
	}
	return nil
}

func (s *Server) logEvent(ctx context.Context, id, action string, details map[string]any) {
	if err := s.cfg.Events.Log(ctx, id, action, details); err != nil {
		s.logger.Warn("ingest: session event", "session_id", id, "action", action, "error", err)
	}
}
