// Package normalize turns raw page events into typed, session-relative
// events. Anything it cannot interpret is dropped without error.
package normalize

import (
	"strings"
	"time"

	"github.com/hazyhaar/uxai/capture/internal/session"
	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Kind is the semantic category of a normalized event.
type Kind int

const (
	KindKey Kind = iota + 1
	KindClick
	KindMove
	KindScroll
	KindCross
	KindVisibility
	KindMetrics
)

func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindClick:
		return "click"
	case KindMove:
		return "move"
	case KindScroll:
		return "scroll"
	case KindCross:
		return "cross"
	case KindVisibility:
		return "visibility"
	case KindMetrics:
		return "metrics"
	}
	return "unknown"
}

// Event is a normalized event. T is session-relative milliseconds; At is
// T mapped onto the engine clock, which can lie before or after the instant
// the event reached the engine.
type Event struct {
	Kind      Kind
	Key       snapshot.KeyClass
	T         float64
	X, Y      float64
	ScrollY   float64
	Entering  bool
	Hidden    bool
	Width     float64
	Height    float64
	DocLength float64
	At        time.Time
}

// Normalize classifies raw against sess. Every recognised event type anchors
// the session timestamp, including keystrokes that are then dropped. now is
// the engine instant raw arrived.
func Normalize(sess *session.Session, raw snapshot.Event, now time.Time) (Event, bool) {
	kind, ok := kindOf(raw.Type)
	if !ok {
		return Event{}, false
	}
	t := sess.Relative(raw.TS)
	ev := Event{Kind: kind, T: t, At: sess.Instant(t, now)}

	switch kind {
	case KindKey:
		class, keep := ClassifyKey(raw.Key, raw.Code, raw.KeyCode)
		if !keep {
			return Event{}, false
		}
		ev.Key = class
	case KindClick, KindMove:
		ev.X, ev.Y = raw.X, raw.Y
	case KindScroll:
		ev.ScrollY = raw.ScrollY
	case KindCross:
		ev.Entering = raw.Type == snapshot.EventMouseEnter
	case KindVisibility:
		ev.Hidden = raw.Hidden
	case KindMetrics:
		ev.Width, ev.Height, ev.DocLength = raw.Width, raw.Height, raw.DocLength
	}
	return ev, true
}

func kindOf(t snapshot.EventType) (Kind, bool) {
	switch t {
	case snapshot.EventKeyDown:
		return KindKey, true
	case snapshot.EventClick:
		return KindClick, true
	case snapshot.EventMouseMove:
		return KindMove, true
	case snapshot.EventScroll:
		return KindScroll, true
	case snapshot.EventMouseEnter, snapshot.EventMouseLeave:
		return KindCross, true
	case snapshot.EventVisibility:
		return KindVisibility, true
	case snapshot.EventMetrics:
		return KindMetrics, true
	}
	return 0, false
}

// ClassifyKey maps a keydown to its class. keep is false for modifier-only
// presses. The first matching rule wins.
func ClassifyKey(key, code string, keyCode int) (class snapshot.KeyClass, keep bool) {
	switch {
	case isSingle(key, isASCIILetter):
		return snapshot.KeyAlpha, true
	case key == " ":
		return snapshot.KeySpace, true
	case isSingle(key, isDigit):
		return snapshot.KeyNumber, true
	case key == "Enter":
		return snapshot.KeyEnter, true
	case key == "Tab":
		return snapshot.KeyTab, true
	case isArrow(key, code, keyCode):
		return snapshot.KeyArrow, true
	case key == "Shift" || key == "CapsLock":
		return 0, false
	case key == "Control" || key == "Alt" || key == "Meta":
		return 0, false
	case key == "Backspace":
		return snapshot.KeyBack, true
	}
	return snapshot.KeySymbol, true
}

func isArrow(key, code string, keyCode int) bool {
	if keyCode >= 37 && keyCode <= 40 {
		return true
	}
	return strings.HasPrefix(code, "Arrow") || strings.HasPrefix(key, "Arrow")
}

func isSingle(s string, pred func(byte) bool) bool {
	return len(s) == 1 && pred(s[0])
}

func isASCIILetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
