package capture

import (
	"context"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// EventSource produces raw events until ctx is cancelled.
type EventSource interface {
	Stream(ctx context.Context, emit func(snapshot.Event)) error
}

// Attach streams src into the engine. It returns when src returns, when ctx
// is cancelled, or once the engine is stopped.
func (e *Engine) Attach(ctx context.Context, src EventSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	err := src.Stream(ctx, func(ev snapshot.Event) { e.Observe(ev) })
	if e.stopped.Load() {
		return ErrStopped
	}
	return err
}
