package snapshot

import "time"

// Point is a pointer position in viewport coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Click is a click at a position, T session-relative in milliseconds.
type Click struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// Move is a pointer move.
type Move struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// Scroll is a vertical scroll offset observation.
type Scroll struct {
	ScrollY float64 `json:"scroll_y"`
	T       float64 `json:"t"`
}

// Cross is the pointer entering or leaving the viewport. At is the page
// timestamp mapped onto the engine clock, so dwell time is measured against
// the snapshot creation instant on one time base however late the page
// delivered the event.
type Cross struct {
	Entering bool      `json:"entering"`
	T        float64   `json:"t"`
	At       time.Time `json:"at"`
}

// Context is the session state copied into a snapshot when it opens.
type Context struct {
	Quota      time.Duration `json:"quota"`
	DocLength  float64       `json:"doc_length"`
	Width      float64       `json:"width"`
	Height     float64       `json:"height"`
	ScrollY    float64       `json:"scroll_y"`
	Pointer    Point         `json:"pointer"`
	HasPointer bool          `json:"has_pointer"`
	Over       bool          `json:"over"`
	CreatedAt  time.Time     `json:"created_at"`
	Hidden     time.Duration `json:"hidden"` // time spent backgrounded right before this snapshot
}

// Snapshot is the events of one capture interval. It is mutable only while
// it is the engine's current snapshot.
type Snapshot struct {
	ID  string `json:"id"`
	Seq int    `json:"seq"`

	Alpha  []float64 `json:"alpha"`
	Number []float64 `json:"number"`
	Space  []float64 `json:"space"`
	Enter  []float64 `json:"enter"`
	Tab    []float64 `json:"tab"`
	Arrow  []float64 `json:"arrow"`
	Back   []float64 `json:"back"`
	Symbol []float64 `json:"symbol"`

	Clicks  []Click  `json:"clicks"`
	Moves   []Move   `json:"moves"`
	Scrolls []Scroll `json:"scrolls"`
	Crosses []Cross  `json:"crosses"`

	Context  Context   `json:"context"`
	ClosedAt time.Time `json:"closed_at,omitzero"`
}

// Keys returns the timestamps recorded for class k.
func (s *Snapshot) Keys(k KeyClass) []float64 {
	if p := s.keySlot(k); p != nil {
		return *p
	}
	return nil
}

// AppendKey records a keystroke of class k at t.
func (s *Snapshot) AppendKey(k KeyClass, t float64) {
	if p := s.keySlot(k); p != nil {
		*p = append(*p, t)
	}
}

func (s *Snapshot) keySlot(k KeyClass) *[]float64 {
	switch k {
	case KeyAlpha:
		return &s.Alpha
	case KeyNumber:
		return &s.Number
	case KeySpace:
		return &s.Space
	case KeyEnter:
		return &s.Enter
	case KeyTab:
		return &s.Tab
	case KeyArrow:
		return &s.Arrow
	case KeyBack:
		return &s.Back
	case KeySymbol:
		return &s.Symbol
	}
	return nil
}

// KeyCount is the number of keystrokes across all classes.
func (s *Snapshot) KeyCount() int {
	n := 0
	for _, k := range KeyClasses {
		n += len(s.Keys(k))
	}
	return n
}

// Empty reports whether no event of any kind was recorded.
func (s *Snapshot) Empty() bool {
	return s.KeyCount() == 0 && len(s.Clicks) == 0 && len(s.Moves) == 0 &&
		len(s.Scrolls) == 0 && len(s.Crosses) == 0
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() Snapshot {
	c := *s
	c.Alpha = cloneSlice(s.Alpha)
	c.Number = cloneSlice(s.Number)
	c.Space = cloneSlice(s.Space)
	c.Enter = cloneSlice(s.Enter)
	c.Tab = cloneSlice(s.Tab)
	c.Arrow = cloneSlice(s.Arrow)
	c.Back = cloneSlice(s.Back)
	c.Symbol = cloneSlice(s.Symbol)
	c.Clicks = cloneSlice(s.Clicks)
	c.Moves = cloneSlice(s.Moves)
	c.Scrolls = cloneSlice(s.Scrolls)
	c.Crosses = cloneSlice(s.Crosses)
	return c
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Vector is the encoded form of one closed snapshot.
type Vector []float64

// Clone returns a copy safe to hand to another goroutine.
func (v Vector) Clone() Vector {
	return cloneSlice(v)
}

// Closed is a closed snapshot with its encoding, as delivered to sinks.
type Closed struct {
	SessionID string   `json:"session_id"`
	Layout    int      `json:"layout"`
	Snapshot  Snapshot `json:"snapshot"`
	Vector    Vector   `json:"vector"`
}
