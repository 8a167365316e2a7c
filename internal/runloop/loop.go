// Package runloop provides a single-goroutine execution context.
//
// All profiling state transitions, config update handlers, periodic task
// ticks and fetch completions run on one Loop, so none of them need locks:
// serialization on the loop is the correctness mechanism.
package runloop

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Loop executes scheduled callbacks one at a time on a single goroutine.
// Callbacks scheduled from the same goroutine run in FIFO order.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	logger zerolog.Logger
}

// New creates a Loop. Call Run to start executing callbacks.
func New(logger zerolog.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger.With().Str("component", "runloop").Logger(),
	}
}

// Schedule enqueues fn for execution on the loop goroutine.
// It never blocks; the queue is unbounded.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes scheduled callbacks until ctx is cancelled.
// It must be called from exactly one goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("Run loop stopped")
			return
		case <-l.wake:
			l.drain()
		}
	}
}

// drain runs every callback queued at the time of the call, plus any
// queued while draining.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
