// Package capture is a session-scoped behavioral telemetry engine. It
// aggregates raw interaction events into 200 ms snapshots, encodes each
// closed snapshot into a fixed-width vector, and once per inference interval
// classifies the trailing window of vectors with an external model.
//
// All session state is owned by one loop goroutine; inference runs on a
// second goroutine that only reads history copies, so the model never slows
// capture down.
//
//	eng, err := capture.New(capture.Config{Predictor: model},
//		capture.WithLogger(logger), capture.WithSink(capture.NewStdoutSink(nil)))
//	eng.Observe(snapshot.Event{Type: snapshot.EventClick, TS: 1532.4, X: 100, Y: 50})
//	...
//	eng.Stop()
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/uxai/capture/encode"
	"github.com/hazyhaar/uxai/capture/internal/accumulate"
	"github.com/hazyhaar/uxai/capture/internal/clock"
	"github.com/hazyhaar/uxai/capture/internal/normalize"
	"github.com/hazyhaar/uxai/capture/internal/scheduler"
	"github.com/hazyhaar/uxai/capture/internal/session"
	"github.com/hazyhaar/uxai/capture/internal/sink"
	"github.com/hazyhaar/uxai/capture/internal/window"
	"github.com/hazyhaar/uxai/capture/predict"
	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/idgen"
	"github.com/hazyhaar/uxai/observability"
)

// SnapshotInterval is the fixed snapshot duration.
const SnapshotInterval = 200 * time.Millisecond

// DefaultInferenceInterval is used when Config.InferenceInterval is zero.
const DefaultInferenceInterval = 5 * time.Second

var ErrStopped = errors.New("capture: engine stopped")

// State is the capture loop state.
type State = scheduler.State

const (
	Active  = scheduler.Active
	Hidden  = scheduler.Hidden
	Stopped = scheduler.Stopped
)

// Config configures one engine.
type Config struct {
	// SessionID identifies the session in sinks and metrics. Generated
	// with the "sess_" prefix when empty.
	SessionID string
	// InferenceInterval is the time between classification attempts.
	InferenceInterval time.Duration
	// Layout selects the vector layout. Zero value means encode.Default.
	Layout encode.Layout
	// HistoryLimit caps retained vectors (0 keeps all). Raised to the
	// window size when smaller.
	HistoryLimit int
	// QueueSize bounds pending events; overflow is dropped. Default 1024.
	QueueSize int

	// CaptureCallback runs on the capture loop for every closed snapshot.
	// It receives copies it may keep or modify.
	CaptureCallback func(snapshot.Snapshot, snapshot.Vector)
	// InferenceCallback receives the label history after each
	// classification, from the inference goroutine.
	InferenceCallback func([]snapshot.Label)
	// Predictor may be nil; attach one later with SetPredictor.
	Predictor predict.Predictor
}

// Stats are engine counters.
type Stats struct {
	Events          int64 `json:"events"`
	Dropped         int64 `json:"dropped"`
	Encoded         int64 `json:"encoded"`
	Classifications int   `json:"classifications"`
}

type item struct {
	ev snapshot.Event
	fn func()
}

// Engine is one capture session.
type Engine struct {
	cfg     Config
	id      string
	logger  *slog.Logger
	clock   clock.Clock
	metrics *observability.MetricsManager
	out     *sink.Async

	sess    *session.Session
	acc     *accumulate.Accumulator
	enc     *encode.Encoder
	sched   *scheduler.Scheduler
	history *window.History
	labels  *session.Labels
	model   *predict.Deferred
	win     *window.Windower

	events  chan item
	pending []normalize.Event
	ticker  clock.Ticker
	tickC   <-chan time.Time

	state    atomic.Int32
	stopped  atomic.Bool
	received atomic.Int64
	dropped  atomic.Int64
	encoded  atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New builds an engine and starts capturing immediately.
func New(cfg Config, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if cfg.InferenceInterval < 0 {
		return nil, fmt.Errorf("capture: negative inference interval %v", cfg.InferenceInterval)
	}
	if cfg.InferenceInterval == 0 {
		cfg.InferenceInterval = DefaultInferenceInterval
	}
	if cfg.Layout.Width() == 0 {
		cfg.Layout = encode.Default
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SessionID == "" {
		cfg.SessionID = idgen.Prefixed("sess_", o.newID)()
	}
	size := window.Size(cfg.InferenceInterval, SnapshotInterval)
	if cfg.HistoryLimit > 0 && cfg.HistoryLimit < size {
		cfg.HistoryLimit = size
	}

	e := &Engine{
		cfg:     cfg,
		id:      cfg.SessionID,
		logger:  o.logger.With("session_id", cfg.SessionID),
		clock:   o.clock,
		metrics: o.metrics,
		sess:    session.New(cfg.SessionID),
		enc:     encode.New(cfg.Layout),
		history: window.NewHistory(cfg.HistoryLimit),
		labels:  &session.Labels{},
		model:   &predict.Deferred{},
		events:  make(chan item, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	if cfg.Predictor != nil {
		e.model.Set(cfg.Predictor)
	}
	if len(o.sinks) > 0 {
		e.out = sink.NewAsync(sink.NewRouter(e.logger, o.sinks...), cfg.QueueSize, e.logger, func() {
			e.metrics.Count(observability.MetricSinkErrors, e.id, 1)
		})
	}
	e.acc = accumulate.New(e.sess, SnapshotInterval, idgen.Prefixed("snp_", o.newID))
	e.sched = scheduler.New(e.acc, e.enc, e.emitClosed)
	e.win = window.New(window.Config{
		SessionID:         e.id,
		SnapshotInterval:  SnapshotInterval,
		InferenceInterval: cfg.InferenceInterval,
		History:           e.history,
		Labels:            e.labels,
		Predictor:         e.model,
		OnResult:          cfg.InferenceCallback,
		Emit:              e.emitClassification,
		Clock:             e.clock,
		NewID:             idgen.Prefixed("cls_", o.newID),
		Metrics:           e.metrics,
		Logger:            e.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if err := e.sched.Start(e.clock.Now()); err != nil {
		cancel()
		return nil, fmt.Errorf("capture: start: %w", err)
	}
	e.syncTicker()

	go e.run(ctx)
	go e.win.Run(ctx)

	e.logger.Info("capture: engine started",
		"layout", cfg.Layout.Name, "inference_interval", cfg.InferenceInterval, "window", size)
	return e, nil
}

// SessionID returns the engine's session identifier.
func (e *Engine) SessionID() string { return e.id }

// Layout returns the vector layout in use.
func (e *Engine) Layout() encode.Layout { return e.cfg.Layout }

// WindowSize is the number of vectors per inference window.
func (e *Engine) WindowSize() int { return e.win.Size() }

// Observe queues a raw event. It never blocks: events are dropped once the
// engine is stopped or the queue is full. It reports whether ev was queued.
func (e *Engine) Observe(ev snapshot.Event) bool {
	if e.stopped.Load() {
		return false
	}
	e.received.Add(1)
	select {
	case e.events <- item{ev: ev}:
		return true
	default:
		e.dropped.Add(1)
		e.metrics.Count(observability.MetricEventsDropped, e.id, 1)
		return false
	}
}

// ObserveBatch queues events in order and returns how many were accepted.
func (e *Engine) ObserveBatch(evs []snapshot.Event) int {
	n := 0
	for _, ev := range evs {
		if e.Observe(ev) {
			n++
		}
	}
	return n
}

// SetPredictor attaches or replaces the model.
func (e *Engine) SetPredictor(p predict.Predictor) { e.model.Set(p) }

// State returns the current loop state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Current returns a copy of the snapshot being filled, if any. It is
// ordered after every event observed before the call, except events stamped
// past the end of the current snapshot, which wait for the next one.
func (e *Engine) Current() (snapshot.Snapshot, bool) {
	var (
		out snapshot.Snapshot
		ok  bool
	)
	e.call(func() {
		if cur := e.acc.Current(); cur != nil {
			out, ok = cur.Clone(), true
		}
	})
	return out, ok
}

// Flush waits until every event observed before the call was applied.
func (e *Engine) Flush() error {
	if !e.call(func() {}) {
		return ErrStopped
	}
	return nil
}

// History returns up to n of the most recent vectors (all when n <= 0).
func (e *Engine) History(n int) []snapshot.Vector { return e.history.Recent(n) }

// Encoded is the number of vectors produced so far.
func (e *Engine) Encoded() int { return e.history.Len() }

// Labels returns a copy of the classification history.
func (e *Engine) Labels() []snapshot.Label { return e.labels.List() }

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Events:          e.received.Load(),
		Dropped:         e.dropped.Load(),
		Encoded:         e.encoded.Load(),
		Classifications: e.labels.Len(),
	}
}

// Done is closed once the capture loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Stop deactivates the engine: no event is applied after it returns, the
// in-flight snapshot is discarded and no classification is recorded
// anymore. A prediction already in flight finishes or is dropped. Stop is
// idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		e.labels.Close()
		e.cancel()
		<-e.done
		if e.out != nil {
			e.out.Close()
		}
		e.logger.Info("capture: engine stopped",
			"encoded", e.encoded.Load(), "labels", e.labels.Len(), "dropped", e.dropped.Load())
	})
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.pending = nil
			e.sched.Stop()
			e.syncTicker()
			return
		case it := <-e.events:
			if it.fn != nil {
				it.fn()
				continue
			}
			e.apply(it.ev)
		case <-e.tickC:
			now := e.clock.Now()
			e.sched.Tick(now)
			e.replay(now)
		}
	}
}

func (e *Engine) apply(raw snapshot.Event) {
	now := e.clock.Now()
	ev, ok := normalize.Normalize(e.sess, raw, now)
	if !ok {
		return
	}
	if len(e.pending) > 0 || e.ahead(ev) {
		if len(e.pending) >= e.cfg.QueueSize {
			e.record(e.pending[0], now)
			e.pending = e.pending[1:]
		}
		e.pending = append(e.pending, ev)
		return
	}
	e.record(ev, now)
}

// ahead reports whether ev happened on the page after the open snapshot's
// window ends.
func (e *Engine) ahead(ev normalize.Event) bool {
	if e.sched.State() != scheduler.Active {
		return false
	}
	cur := e.acc.Current()
	if cur == nil {
		return false
	}
	return !ev.At.Before(cur.Context.CreatedAt.Add(SnapshotInterval))
}

// replay applies held events, in order, up to the first one that is still
// ahead of the snapshot just opened.
func (e *Engine) replay(now time.Time) {
	for len(e.pending) > 0 && !e.ahead(e.pending[0]) {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		e.record(ev, now)
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
}

func (e *Engine) record(ev normalize.Event, now time.Time) {
	if ev.Kind != normalize.KindVisibility {
		e.acc.Record(ev)
		return
	}
	if ev.Hidden {
		e.sched.Hide(now)
	} else {
		e.sched.Show(now)
	}
	e.syncTicker()
}

// syncTicker runs the snapshot timer exactly while Active.
func (e *Engine) syncTicker() {
	st := e.sched.State()
	switch {
	case st == scheduler.Active && e.ticker == nil:
		e.ticker = e.clock.NewTicker(SnapshotInterval)
		e.tickC = e.ticker.C()
	case st != scheduler.Active && e.ticker != nil:
		e.ticker.Stop()
		e.ticker, e.tickC = nil, nil
	}
	e.state.Store(int32(st))
}

// call runs fn on the loop after already queued events.
func (e *Engine) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case e.events <- item{fn: func() { fn(); close(finished) }}:
	case <-e.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) emitClosed(s snapshot.Snapshot, v snapshot.Vector) {
	e.history.Append(v)
	e.encoded.Add(1)
	e.metrics.Count(observability.MetricSnapshotsEncoded, e.id, 1)
	if cb := e.cfg.CaptureCallback; cb != nil {
		cb(s.Clone(), v.Clone())
	}
	if e.out != nil {
		e.out.SendSnapshot(context.Background(), snapshot.Closed{
			SessionID: e.id,
			Layout:    e.cfg.Layout.Version,
			Snapshot:  s,
			Vector:    v,
		})
	}
}

func (e *Engine) emitClassification(c snapshot.Classification) {
	e.logger.Debug("capture: classified", "label", c.Label, "seq", c.Seq)
	if e.out != nil {
		e.out.SendClassification(context.Background(), c)
	}
}
