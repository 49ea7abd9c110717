// Package window runs periodic inference over the trailing encoded
// vectors. It owns its own goroutine and only reads history copies, so a
// slow or missing model never holds up capture.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/uxai/capture/internal/clock"
	"github.com/hazyhaar/uxai/capture/internal/session"
	"github.com/hazyhaar/uxai/capture/predict"
	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/idgen"
	"github.com/hazyhaar/uxai/observability"
)

var (
	ErrNotEnoughHistory = errors.New("window: not enough history")
	ErrModelUnavailable = errors.New("window: model unavailable")
	ErrCycleAbandoned   = errors.New("window: cycle abandoned")
	ErrSessionClosed    = errors.New("window: session closed")
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultSafetyMargin = time.Second
)

// Config wires a Windower. History, Labels and Predictor are required.
type Config struct {
	SessionID         string
	SnapshotInterval  time.Duration
	InferenceInterval time.Duration
	PollInterval      time.Duration
	SafetyMargin      time.Duration

	History   *History
	Labels    *session.Labels
	Predictor predict.Predictor

	// OnResult receives the full label history after each classification.
	OnResult func([]snapshot.Label)
	// Emit receives each classification, e.g. for sinks.
	Emit func(snapshot.Classification)

	Clock   clock.Clock
	NewID   idgen.Generator
	Metrics *observability.MetricsManager
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 200 * time.Millisecond
	}
	if c.InferenceInterval <= 0 {
		c.InferenceInterval = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("cls_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Windower classifies the trailing window once per inference interval.
type Windower struct {
	cfg Config
	seq int
}

// New returns a Windower. It does nothing until Run.
func New(cfg Config) *Windower {
	cfg.defaults()
	return &Windower{cfg: cfg}
}

// Size is the window length: inference interval over snapshot interval,
// rounded, at least one.
func Size(inference, snap time.Duration) int {
	n := int(math.Round(float64(inference) / float64(snap)))
	if n < 1 {
		return 1
	}
	return n
}

func (w *Windower) Size() int { return Size(w.cfg.InferenceInterval, w.cfg.SnapshotInterval) }

// Run fires a cycle on every inference tick until ctx is done.
func (w *Windower) Run(ctx context.Context) error {
	ticker := w.cfg.Clock.NewTicker(w.cfg.InferenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			next := w.cfg.Clock.Now().Add(w.cfg.InferenceInterval)
			_, err := w.Cycle(ctx, next)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrSessionClosed):
				return nil
			case errors.Is(err, ErrCycleAbandoned), errors.Is(err, ErrNotEnoughHistory):
				w.cfg.Logger.Debug("window: cycle skipped", "session_id", w.cfg.SessionID, "error", err)
			default:
				w.cfg.Logger.Warn("window: cycle failed", "session_id", w.cfg.SessionID, "error", err)
			}
		}
	}
}

// Cycle runs one inference attempt that must finish before next, the start
// of the following cycle.
func (w *Windower) Cycle(ctx context.Context, next time.Time) (snapshot.Classification, error) {
	size := w.Size()
	cctx, cancel := clock.WithDeadline(ctx, w.cfg.Clock, next)
	defer cancel()

	if err := w.cfg.History.Wait(cctx, size); err != nil {
		if ctx.Err() != nil {
			return snapshot.Classification{}, ctx.Err()
		}
		return snapshot.Classification{}, fmt.Errorf("%w: %d of %d vectors before next cycle",
			ErrNotEnoughHistory, w.cfg.History.Len(), size)
	}
	win, err := w.cfg.History.Window(size)
	if err != nil {
		return snapshot.Classification{}, err
	}

	if err := w.awaitModel(ctx, next); err != nil {
		if errors.Is(err, ErrCycleAbandoned) {
			w.cfg.Metrics.Count(observability.MetricInferenceAbandoned, w.cfg.SessionID, 1)
		}
		return snapshot.Classification{}, err
	}

	start := time.Now()
	scores, err := w.cfg.Predictor.Predict(cctx, win)
	w.cfg.Metrics.Duration(observability.MetricInferenceMs, w.cfg.SessionID, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return snapshot.Classification{}, ctx.Err()
		}
		if cctx.Err() != nil {
			w.cfg.Metrics.Count(observability.MetricInferenceAbandoned, w.cfg.SessionID, 1)
			return snapshot.Classification{}, fmt.Errorf("%w: predictor missed the cycle deadline", ErrCycleAbandoned)
		}
		return snapshot.Classification{}, fmt.Errorf("window: predict: %w", err)
	}

	label, _, err := snapshot.ArgMax(scores)
	if err != nil {
		return snapshot.Classification{}, fmt.Errorf("window: %w", err)
	}
	history, ok := w.cfg.Labels.Append(label)
	if !ok {
		return snapshot.Classification{}, ErrSessionClosed
	}

	w.seq++
	c := snapshot.Classification{
		ID:        w.cfg.NewID(),
		SessionID: w.cfg.SessionID,
		Seq:       w.seq,
		Label:     label,
		Scores:    scores,
		At:        w.cfg.Clock.Now(),
		Window:    len(win),
	}
	if w.cfg.OnResult != nil {
		w.cfg.OnResult(history)
	}
	if w.cfg.Emit != nil {
		w.cfg.Emit(c)
	}
	return c, nil
}

// awaitModel polls readiness and gives up once less than the safety margin
// remains before next.
func (w *Windower) awaitModel(ctx context.Context, next time.Time) error {
	for !w.cfg.Predictor.Ready() {
		if next.Sub(w.cfg.Clock.Now()) < w.cfg.SafetyMargin {
			return fmt.Errorf("%w: %w", ErrCycleAbandoned, ErrModelUnavailable)
		}
		if err := clock.Sleep(ctx, w.cfg.Clock, w.cfg.PollInterval); err != nil {
			return err
		}
	}
	return nil
}
