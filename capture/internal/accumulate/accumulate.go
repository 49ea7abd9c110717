// Package accumulate owns the snapshot currently being filled.
package accumulate

import (
	"time"

	"github.com/hazyhaar/uxai/capture/internal/normalize"
	"github.com/hazyhaar/uxai/capture/internal/session"
	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/idgen"
)

// Accumulator appends normalized events to the current snapshot and keeps
// the session tracking up to date. Not safe for concurrent use.
type Accumulator struct {
	sess  *session.Session
	quota time.Duration
	newID idgen.Generator
	seq   int
	cur   *snapshot.Snapshot
}

// New returns an accumulator with no snapshot open.
func New(sess *session.Session, quota time.Duration, newID idgen.Generator) *Accumulator {
	if newID == nil {
		newID = idgen.Prefixed("snp_", idgen.Default)
	}
	return &Accumulator{sess: sess, quota: quota, newID: newID}
}

// Record applies ev. Session tracking is updated whether or not a snapshot
// is open; the event is stored only when one is. It reports whether ev was
// stored.
func (a *Accumulator) Record(ev normalize.Event) bool {
	a.track(ev)
	s := a.cur
	if s == nil {
		return false
	}
	switch ev.Kind {
	case normalize.KindKey:
		s.AppendKey(ev.Key, clamp(ev.T, lastOf(s.Keys(ev.Key))))
	case normalize.KindClick:
		var prev float64
		if n := len(s.Clicks); n > 0 {
			prev = s.Clicks[n-1].T
		}
		s.Clicks = append(s.Clicks, snapshot.Click{X: ev.X, Y: ev.Y, T: clamp(ev.T, prev)})
	case normalize.KindMove:
		var prev float64
		if n := len(s.Moves); n > 0 {
			prev = s.Moves[n-1].T
		}
		s.Moves = append(s.Moves, snapshot.Move{X: ev.X, Y: ev.Y, T: clamp(ev.T, prev)})
	case normalize.KindScroll:
		var prev float64
		if n := len(s.Scrolls); n > 0 {
			prev = s.Scrolls[n-1].T
		}
		s.Scrolls = append(s.Scrolls, snapshot.Scroll{ScrollY: ev.ScrollY, T: clamp(ev.T, prev)})
	case normalize.KindCross:
		var prev float64
		if n := len(s.Crosses); n > 0 {
			prev = s.Crosses[n-1].T
		}
		s.Crosses = append(s.Crosses, snapshot.Cross{Entering: ev.Entering, T: clamp(ev.T, prev), At: ev.At})
	default:
		return false
	}
	return true
}

func (a *Accumulator) track(ev normalize.Event) {
	switch ev.Kind {
	case normalize.KindMove:
		a.sess.Pointer = snapshot.Point{X: ev.X, Y: ev.Y}
		a.sess.HasPointer = true
	case normalize.KindCross:
		a.sess.Over = ev.Entering
	case normalize.KindScroll:
		a.sess.ScrollY = ev.ScrollY
	case normalize.KindMetrics:
		if ev.Width > 0 {
			a.sess.Width = ev.Width
		}
		if ev.Height > 0 {
			a.sess.Height = ev.Height
		}
		if ev.DocLength > 0 {
			a.sess.DocLength = ev.DocLength
		}
	}
}

// Open starts a new current snapshot seeded from the session. hiddenFor is
// the backgrounded time that preceded it. Any snapshot still open is
// dropped.
func (a *Accumulator) Open(now time.Time, hiddenFor time.Duration) *snapshot.Snapshot {
	a.seq++
	a.cur = &snapshot.Snapshot{
		ID:      a.newID(),
		Seq:     a.seq,
		Context: a.sess.Context(a.quota, now, hiddenFor),
	}
	return a.cur
}

// Close detaches the current snapshot and returns it. The accumulator keeps
// no reference, so the result is immutable from here on.
func (a *Accumulator) Close(now time.Time) (snapshot.Snapshot, bool) {
	if a.cur == nil {
		return snapshot.Snapshot{}, false
	}
	s := *a.cur
	s.ClosedAt = now
	a.cur = nil
	return s, true
}

// Discard drops the current snapshot without returning it.
func (a *Accumulator) Discard() {
	a.cur = nil
}

// Current is the live snapshot, valid until the next Open, Close or Discard.
func (a *Accumulator) Current() *snapshot.Snapshot { return a.cur }

// IsOpen reports whether a snapshot is being filled.
func (a *Accumulator) IsOpen() bool { return a.cur != nil }

// Session returns the tracked session.
func (a *Accumulator) Session() *session.Session { return a.sess }

func lastOf(ts []float64) float64 {
	if len(ts) == 0 {
		return 0
	}
	return ts[len(ts)-1]
}

func clamp(t, floor float64) float64 {
	if t < floor {
		return floor
	}
	return t
}
