package window

import (
	"context"
	"sync"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// History is the append-only list of encoded vectors. The capture loop
// appends; the windower reads copies. With a retention limit the oldest
// vectors are dropped but Len still counts every append.
type History struct {
	mu      sync.Mutex
	vecs    []snapshot.Vector
	total   int
	limit   int
	changed chan struct{}
}

// NewHistory returns a history keeping at most limit vectors (0 = all).
func NewHistory(limit int) *History {
	return &History{limit: limit, changed: make(chan struct{})}
}

// Append stores v and wakes waiters.
func (h *History) Append(v snapshot.Vector) {
	h.mu.Lock()
	h.vecs = append(h.vecs, v)
	h.total++
	if h.limit > 0 && len(h.vecs) > h.limit {
		drop := len(h.vecs) - h.limit
		h.vecs = append(h.vecs[:0:0], h.vecs[drop:]...)
	}
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

// Len is the number of vectors ever appended.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Window returns the trailing n vectors, oldest first.
func (h *History) Window(n int) ([]snapshot.Vector, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || len(h.vecs) < n {
		return nil, ErrNotEnoughHistory
	}
	out := make([]snapshot.Vector, n)
	copy(out, h.vecs[len(h.vecs)-n:])
	return out, nil
}

// Recent returns up to n trailing vectors; n <= 0 returns all retained.
func (h *History) Recent(n int) []snapshot.Vector {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.vecs) {
		n = len(h.vecs)
	}
	out := make([]snapshot.Vector, n)
	copy(out, h.vecs[len(h.vecs)-n:])
	return out
}

// Wait blocks until at least n vectors were appended or ctx is done.
func (h *History) Wait(ctx context.Context, n int) error {
	for {
		h.mu.Lock()
		if h.total >= n {
			h.mu.Unlock()
			return nil
		}
		ch := h.changed
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
