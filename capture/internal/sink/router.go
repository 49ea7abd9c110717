package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Router fans out to every sink. One failing sink does not stop the
// others; errors are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter returns a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len is the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendSnapshot(ctx context.Context, c snapshot.Closed) error {
	return r.each("snapshot", func(s Sink) error { return s.SendSnapshot(ctx, c) })
}

func (r *Router) SendClassification(ctx context.Context, c snapshot.Classification) error {
	return r.each("classification", func(s Sink) error { return s.SendClassification(ctx, c) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(what string, send func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := send(s); err != nil {
			r.logger.Warn("sink: send "+what+" failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
