package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Ticks are delivered synchronously by
// Advance: it waits for the receiver (up to one second of wall time, then
// drops the tick like a real ticker would). Timers fire into a one-slot
// buffer and never block.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	waiters []*fakeWaiter
}

// NewFake returns a Fake set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

type fakeWaiter struct {
	f       *Fake
	id      int
	at      time.Time
	period  time.Duration // zero for timers
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	return fakeTicker{f.add(d, d, make(chan time.Time))}
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	w := f.add(d, 0, make(chan time.Time, 1))
	if d <= 0 {
		f.mu.Lock()
		now := f.now
		f.remove(w)
		f.mu.Unlock()
		w.ch <- now
	}
	return w
}

func (f *Fake) add(d, period time.Duration, ch chan time.Time) *fakeWaiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	w := &fakeWaiter{
		f:       f,
		id:      f.nextID,
		at:      f.now.Add(d),
		period:  period,
		ch:      ch,
		stopped: make(chan struct{}),
	}
	f.waiters = append(f.waiters, w)
	return w
}

// remove must be called with f.mu held.
func (f *Fake) remove(w *fakeWaiter) bool {
	for i, x := range f.waiters {
		if x == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, firing due tickers and timers in
// time order. Equal deadlines fire in creation order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var next *fakeWaiter
		for _, w := range f.waiters {
			if w.at.After(target) {
				continue
			}
			if next == nil || w.at.Before(next.at) || (w.at.Equal(next.at) && w.id < next.id) {
				next = w
			}
		}
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.at
		fired := f.now
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			f.remove(next)
		}
		f.mu.Unlock()

		next.deliver(fired)
	}
}

// Waiters is the number of active tickers and pending timers.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// BlockUntil waits until at least n tickers or timers are active.
func (f *Fake) BlockUntil(n int) {
	for f.Waiters() < n {
		time.Sleep(time.Millisecond)
	}
}

func (w *fakeWaiter) deliver(t time.Time) {
	if w.period == 0 {
		select {
		case w.ch <- t:
		default:
		}
		return
	}
	select {
	case w.ch <- t:
	case <-w.stopped:
	case <-time.After(time.Second):
	}
}

func (w *fakeWaiter) C() <-chan time.Time { return w.ch }

func (w *fakeWaiter) Stop() bool {
	w.f.mu.Lock()
	removed := w.f.remove(w)
	w.f.mu.Unlock()
	w.once.Do(func() { close(w.stopped) })
	return removed
}

type fakeTicker struct{ *fakeWaiter }

func (t fakeTicker) Stop() { t.fakeWaiter.Stop() }
