// Package snapshot defines the types exchanged between the capture engine,
// its event sources and its sinks. It has no dependencies so pages, daemons
// and consumers can share it.
package snapshot

// EventType names a raw interaction event as reported by the page.
type EventType string

const (
	EventKeyDown    EventType = "keydown"
	EventClick      EventType = "click"
	EventScroll     EventType = "scroll"
	EventMouseMove  EventType = "mousemove"
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
	EventVisibility EventType = "visibilitychange"
	EventMetrics    EventType = "metrics" // viewport and document size report
)

// Event is one raw event on the wire. TS is the page's monotonic clock in
// milliseconds; only the fields relevant to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	TS        float64   `json:"ts"`
	Key       string    `json:"key,omitempty"`
	Code      string    `json:"code,omitempty"`
	KeyCode   int       `json:"key_code,omitempty"`
	X         float64   `json:"x,omitempty"`
	Y         float64   `json:"y,omitempty"`
	ScrollY   float64   `json:"scroll_y,omitempty"`
	Hidden    bool      `json:"hidden,omitempty"`
	Width     float64   `json:"width,omitempty"`
	Height    float64   `json:"height,omitempty"`
	DocLength float64   `json:"doc_length,omitempty"`
}

// KeyClass is the semantic category of a keystroke.
type KeyClass int

const (
	KeyAlpha KeyClass = iota
	KeyNumber
	KeySpace
	KeyEnter
	KeyTab
	KeyArrow
	KeyBack
	KeySymbol
)

// KeyClasses lists every class in encoding order.
var KeyClasses = [...]KeyClass{KeyAlpha, KeyNumber, KeySpace, KeyEnter, KeyTab, KeyArrow, KeyBack, KeySymbol}

var keyClassNames = [...]string{"alpha", "number", "space", "enter", "tab", "arrow", "back", "symbol"}

func (k KeyClass) String() string {
	if k < 0 || int(k) >= len(keyClassNames) {
		return "unknown"
	}
	return keyClassNames[k]
}
