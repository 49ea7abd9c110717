package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Async decouples a sink from its caller: sends are queued and delivered by
// one goroutine in order. A full queue drops the item. Close drains the
// queue but does not close the wrapped sink, which may be shared.
type Async struct {
	next    Sink
	logger  *slog.Logger
	queue   chan func(context.Context) error
	dropped atomic.Int64
	onDrop  func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAsync wraps next with a queue of size entries. onDrop, if set, runs for
// every dropped item.
func NewAsync(next Sink, size int, logger *slog.Logger, onDrop func()) *Async {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan func(context.Context) error, size),
		onDrop: onDrop,
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for send := range a.queue {
		if err := send(a.ctx); err != nil {
			a.logger.Warn("sink: async delivery failed", "error", err)
		}
	}
}

func (a *Async) enqueue(send func(context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- send:
	default:
		a.dropped.Add(1)
		if a.onDrop != nil {
			a.onDrop()
		}
	}
	return nil
}

func (a *Async) SendSnapshot(_ context.Context, c snapshot.Closed) error {
	return a.enqueue(func(ctx context.Context) error { return a.next.SendSnapshot(ctx, c) })
}

func (a *Async) SendClassification(_ context.Context, c snapshot.Classification) error {
	return a.enqueue(func(ctx context.Context) error { return a.next.SendClassification(ctx, c) })
}

// Dropped is the number of items lost to a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting items and waits until the queue is delivered.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
	a.cancel()
	return nil
}
