// Package encode maps a closed snapshot to a fixed-width numeric vector.
// Encoding is pure: the same snapshot always yields the same vector, and an
// empty snapshot yields a full-width vector with zeroed activity fields.
package encode

import (
	"math"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// DefaultQuota is used when a snapshot carries no interval quota.
const DefaultQuota = 200 * time.Millisecond

// Features holds every quantity derivable from one snapshot. Layouts pick
// and order a subset of them.
type Features struct {
	Keys     [len(snapshot.KeyClasses)]float64
	KeyTotal float64
	Clicks   float64

	Dwell float64

	Movement     float64
	Displacement float64
	FinalX       float64
	FinalY       float64
	AvgX         float64
	AvgY         float64

	ScrollDistance float64
	StartScroll    float64
	FinalScroll    float64
	AvgScroll      float64

	Width     float64
	Height    float64
	DocLength float64

	HiddenMs    float64
	HiddenRatio float64
}

// Derive computes Features for s.
func Derive(s *snapshot.Snapshot) Features {
	var f Features
	for i, k := range snapshot.KeyClasses {
		n := float64(len(s.Keys(k)))
		f.Keys[i] = n
		f.KeyTotal += n
	}
	f.Clicks = float64(len(s.Clicks))

	quota := s.Context.Quota
	if quota <= 0 {
		quota = DefaultQuota
	}
	f.Dwell = dwell(s, quota)

	f.Movement, f.Displacement, f.FinalX, f.FinalY, f.AvgX, f.AvgY = pointer(s)
	f.StartScroll = s.Context.ScrollY
	f.ScrollDistance, f.FinalScroll, f.AvgScroll = scroll(s)

	f.Width = s.Context.Width
	f.Height = s.Context.Height
	f.DocLength = s.Context.DocLength

	f.HiddenMs = ms(s.Context.Hidden)
	f.HiddenRatio = f.HiddenMs / ms(quota)
	return f
}

// Value returns the feature at field.
func (f Features) Value(field Field) float64 {
	switch {
	case field >= FieldAlpha && field <= FieldSymbol:
		return f.Keys[field-FieldAlpha]
	}
	switch field {
	case FieldKeyTotal:
		return f.KeyTotal
	case FieldClicks:
		return f.Clicks
	case FieldDwell:
		return f.Dwell
	case FieldMovement:
		return f.Movement
	case FieldDisplacement:
		return f.Displacement
	case FieldFinalX:
		return f.FinalX
	case FieldFinalY:
		return f.FinalY
	case FieldAvgX:
		return f.AvgX
	case FieldAvgY:
		return f.AvgY
	case FieldScrollDistance:
		return f.ScrollDistance
	case FieldStartScroll:
		return f.StartScroll
	case FieldFinalScroll:
		return f.FinalScroll
	case FieldAvgScroll:
		return f.AvgScroll
	case FieldWidth:
		return f.Width
	case FieldHeight:
		return f.Height
	case FieldDocLength:
		return f.DocLength
	case FieldHiddenMs:
		return f.HiddenMs
	case FieldHiddenRatio:
		return f.HiddenRatio
	}
	return 0
}

// Encoder encodes snapshots with one layout.
type Encoder struct {
	layout Layout
}

// New returns an Encoder for layout.
func New(layout Layout) *Encoder {
	return &Encoder{layout: layout}
}

func (e *Encoder) Layout() Layout { return e.layout }

// Encode never fails and always returns Layout().Width() values.
func (e *Encoder) Encode(s *snapshot.Snapshot) snapshot.Vector {
	f := Derive(s)
	out := make(snapshot.Vector, len(e.layout.Fields))
	for i, field := range e.layout.Fields {
		out[i] = f.Value(field)
	}
	return out
}

// dwell walks the crossings from the creation flag and accumulates the time
// the pointer was over the page, divided by the quota. The end of the walk
// is the close instant (or the quota when unknown), never earlier than the
// last crossing.
func dwell(s *snapshot.Snapshot, quota time.Duration) float64 {
	created := s.Context.CreatedAt
	end := quota
	if !s.ClosedAt.IsZero() && !created.IsZero() {
		end = s.ClosedAt.Sub(created)
	}

	over := s.Context.Over
	var prev, total time.Duration
	for _, c := range s.Crosses {
		at := c.At.Sub(created)
		if c.At.IsZero() || created.IsZero() {
			at = time.Duration(c.T * float64(time.Millisecond))
		}
		if at < prev {
			at = prev
		}
		if over {
			total += at - prev
		}
		prev = at
		over = c.Entering
	}
	if end < prev {
		end = prev
	}
	if over {
		total += end - prev
	}
	return ms(total) / ms(quota)
}

func pointer(s *snapshot.Snapshot) (movement, displacement, finalX, finalY, avgX, avgY float64) {
	seed := s.Context.Pointer
	if len(s.Moves) == 0 {
		return 0, 0, seed.X, seed.Y, seed.X, seed.Y
	}
	if !s.Context.HasPointer {
		seed = snapshot.Point{X: s.Moves[0].X, Y: s.Moves[0].Y}
	}

	prev := seed
	var sumX, sumY float64
	for _, m := range s.Moves {
		movement += math.Hypot(m.X-prev.X, m.Y-prev.Y)
		prev = snapshot.Point{X: m.X, Y: m.Y}
		sumX += m.X
		sumY += m.Y
	}
	n := float64(len(s.Moves))
	displacement = math.Hypot(prev.X-seed.X, prev.Y-seed.Y)
	return movement, displacement, prev.X, prev.Y, sumX / n, sumY / n
}

func scroll(s *snapshot.Snapshot) (distance, final, avg float64) {
	pos := s.Context.ScrollY
	if len(s.Scrolls) == 0 {
		return 0, pos, pos
	}
	var sum float64
	for _, sc := range s.Scrolls {
		distance += math.Abs(sc.ScrollY - pos)
		pos = sc.ScrollY
		sum += sc.ScrollY
	}
	return distance, pos, sum / float64(len(s.Scrolls))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
