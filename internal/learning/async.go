package learning

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultQueueSize is the AsyncRecorder buffer length.
const DefaultQueueSize = 256

// AsyncRecorder records events on a background goroutine so the request
// path never waits on disk. When the queue is full the event is dropped.
type AsyncRecorder struct {
	next   Recorder
	logger *zap.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped  atomic.Int64
	failures atomic.Int64
}

// NewAsyncRecorder starts a recorder that forwards to next.
func NewAsyncRecorder(next Recorder, size int, logger *zap.Logger) *AsyncRecorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncRecorder{
		next:   next,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues ev. It never blocks and never returns an error; drops and
// downstream failures are counted and logged.
func (a *AsyncRecorder) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(ev, "recorder closed")
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		a.drop(ev, "queue full")
	}
	return nil
}

func (a *AsyncRecorder) drop(ev Event, reason string) {
	a.dropped.Add(1)
	a.logger.Warn("learning event dropped",
		zap.String("reason", reason),
		zap.String("fingerprint", ev.Fingerprint))
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.next.Record(context.Background(), ev); err != nil {
			a.failures.Add(1)
			a.logger.Warn("learning event not recorded",
				zap.String("fingerprint", ev.Fingerprint),
				zap.Error(err))
		}
	}
}

// Close stops accepting events and waits until queued ones are recorded or
// ctx is done.
func (a *AsyncRecorder) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were discarded.
func (a *AsyncRecorder) Dropped() int64 {
	return a.dropped.Load()
}

// Failures returns how many events the downstream recorder rejected.
func (a *AsyncRecorder) Failures() int64 {
	return a.failures.Load()
}
