// Package predict provides the classifier clients the inference windower
// calls. A Predictor maps a window of encoded vectors to one score per
// label in snapshot.Labels order.
package predict

import (
	"context"
	"errors"
	"sync"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

var ErrNotReady = errors.New("predict: model not ready")

// Predictor is the model boundary. Ready reports whether Predict may be
// called; the windower polls it while the model loads.
type Predictor interface {
	Ready() bool
	Predict(ctx context.Context, window []snapshot.Vector) ([]float64, error)
}

// Func adapts a function into an always-ready Predictor.
type Func func(ctx context.Context, window []snapshot.Vector) ([]float64, error)

func (f Func) Ready() bool { return f != nil }

func (f Func) Predict(ctx context.Context, window []snapshot.Vector) ([]float64, error) {
	if f == nil {
		return nil, ErrNotReady
	}
	return f(ctx, window)
}

// Deferred is a Predictor whose model is attached after the engine starts.
type Deferred struct {
	mu sync.RWMutex
	p  Predictor
}

// Set attaches (or replaces) the underlying predictor.
func (d *Deferred) Set(p Predictor) {
	d.mu.Lock()
	d.p = p
	d.mu.Unlock()
}

func (d *Deferred) get() Predictor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.p
}

func (d *Deferred) Ready() bool {
	p := d.get()
	return p != nil && p.Ready()
}

func (d *Deferred) Predict(ctx context.Context, window []snapshot.Vector) ([]float64, error) {
	p := d.get()
	if p == nil {
		return nil, ErrNotReady
	}
	return p.Predict(ctx, window)
}
