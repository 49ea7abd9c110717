// Package session holds the per-page state that outlives individual
// snapshots: the timestamp anchor, pointer and scroll tracking, viewport
// metrics and the classification history.
package session

import (
	"sync"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Session is owned by the capture loop and must not be shared.
type Session struct {
	ID string

	offset   float64
	anchored bool
	base     time.Time
	pinned   bool

	Over       bool
	Pointer    snapshot.Point
	HasPointer bool
	ScrollY    float64
	Width      float64
	Height     float64
	DocLength  float64
}

// New returns a session with the pointer assumed over the page.
func New(id string) *Session {
	return &Session{ID: id, Over: true}
}

// Relative converts a page timestamp to session time. The first call
// anchors the offset; it is never moved afterwards.
func (s *Session) Relative(raw float64) float64 {
	if !s.anchored {
		s.offset = raw
		s.anchored = true
	}
	t := raw - s.offset
	if t < 0 {
		return 0
	}
	return t
}

// MaxSkew is how far ahead of the engine clock a mapped page instant may
// run before the mapping is re-pinned.
const MaxSkew = time.Second

// Instant maps session time t onto the engine clock. The first call pins t
// to now; later instants follow the page clock, so batched events keep the
// spacing they had on the page.
func (s *Session) Instant(t float64, now time.Time) time.Time {
	d := time.Duration(t * float64(time.Millisecond))
	if !s.pinned {
		s.base = now.Add(-d)
		s.pinned = true
	}
	at := s.base.Add(d)
	if at.Sub(now) > MaxSkew {
		s.base = now.Add(-d)
		at = now
	}
	return at
}

// Anchored reports whether the timestamp offset has been set.
func (s *Session) Anchored() bool { return s.anchored }

// Offset is the page timestamp of the first observed event.
func (s *Session) Offset() float64 { return s.offset }

// Context captures the state a new snapshot starts from.
func (s *Session) Context(quota time.Duration, now time.Time, hidden time.Duration) snapshot.Context {
	return snapshot.Context{
		Quota:      quota,
		DocLength:  s.DocLength,
		Width:      s.Width,
		Height:     s.Height,
		ScrollY:    s.ScrollY,
		Pointer:    s.Pointer,
		HasPointer: s.HasPointer,
		Over:       s.Over,
		CreatedAt:  now,
		Hidden:     hidden,
	}
}

// Labels is the classification history. The windower appends from its own
// goroutine; Close makes later appends no-ops.
type Labels struct {
	mu     sync.Mutex
	labels []snapshot.Label
	closed bool
}

// Append adds l and returns a copy of the updated history. ok is false once
// the history is closed.
func (h *Labels) Append(l snapshot.Label) (history []snapshot.Label, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.labels = append(h.labels, l)
	return append([]snapshot.Label(nil), h.labels...), true
}

// List returns a copy of the history.
func (h *Labels) List() []snapshot.Label {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]snapshot.Label(nil), h.labels...)
}

func (h *Labels) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.labels)
}

func (h *Labels) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *Labels) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
