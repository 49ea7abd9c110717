package capture

import (
	"log/slog"

	"github.com/hazyhaar/uxai/capture/internal/clock"
	"github.com/hazyhaar/uxai/idgen"
	"github.com/hazyhaar/uxai/observability"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	clock   clock.Clock
	sinks   []Sink
	metrics *observability.MetricsManager
	newID   idgen.Generator
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		clock:  clock.Real{},
		newID:  idgen.Default,
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithSink adds output sinks. Deliveries are queued so a slow sink never
// blocks capture. Stop drains the queue but leaves the sinks open; the
// caller closes them.
func WithSink(sinks ...Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithMetrics records capture counters.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(o *options) { o.metrics = mm }
}

// WithIDGenerator sets the generator behind session, snapshot and
// classification IDs (prefixes are added by the engine).
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) {
		if g != nil {
			o.newID = g
		}
	}
}
