// Package scheduler drives snapshot rotation: Active rotates on every tick,
// Hidden holds no open snapshot, Stopped is terminal. The timer itself
// belongs to the caller, which starts or stops it according to State.
package scheduler

import (
	"errors"
	"time"

	"github.com/hazyhaar/uxai/capture/encode"
	"github.com/hazyhaar/uxai/capture/internal/accumulate"
	"github.com/hazyhaar/uxai/capture/snapshot"
)

// State of the capture loop.
type State int

const (
	Idle State = iota // constructed, not started
	Active
	Hidden
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Hidden:
		return "hidden"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

var ErrAlreadyStarted = errors.New("scheduler: already started")

// EmitFunc receives every closed snapshot with its encoding.
type EmitFunc func(snapshot.Snapshot, snapshot.Vector)

// Scheduler is not safe for concurrent use.
type Scheduler struct {
	acc      *accumulate.Accumulator
	enc      *encode.Encoder
	emit     EmitFunc
	state    State
	hiddenAt time.Time
}

// New returns an Idle scheduler.
func New(acc *accumulate.Accumulator, enc *encode.Encoder, emit EmitFunc) *Scheduler {
	if emit == nil {
		emit = func(snapshot.Snapshot, snapshot.Vector) {}
	}
	return &Scheduler{acc: acc, enc: enc, emit: emit}
}

func (s *Scheduler) State() State { return s.state }

// Start enters Active and opens the first snapshot.
func (s *Scheduler) Start(now time.Time) error {
	if s.state != Idle {
		return ErrAlreadyStarted
	}
	s.state = Active
	s.acc.Open(now, 0)
	return nil
}

// Tick rotates: close, encode, emit, open. Ignored unless Active.
func (s *Scheduler) Tick(now time.Time) bool {
	if s.state != Active {
		return false
	}
	s.closeAndEmit(now)
	s.acc.Open(now, 0)
	return true
}

// Hide force-closes the in-flight snapshot and suspends capture.
func (s *Scheduler) Hide(now time.Time) bool {
	if s.state != Active {
		return false
	}
	s.closeAndEmit(now)
	s.hiddenAt = now
	s.state = Hidden
	return true
}

// Show resumes capture with a snapshot carrying the hidden duration.
func (s *Scheduler) Show(now time.Time) bool {
	if s.state != Hidden {
		return false
	}
	gone := now.Sub(s.hiddenAt)
	if gone < 0 {
		gone = 0
	}
	s.acc.Open(now, gone)
	s.state = Active
	return true
}

// Stop discards the in-flight snapshot without encoding it.
func (s *Scheduler) Stop() bool {
	if s.state == Stopped {
		return false
	}
	s.acc.Discard()
	s.state = Stopped
	return true
}

func (s *Scheduler) closeAndEmit(now time.Time) {
	snap, ok := s.acc.Close(now)
	if !ok {
		return
	}
	s.emit(snap, s.enc.Encode(&snap))
}
