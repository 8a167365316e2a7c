package profiling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/metrics"
	"github.com/statshive/statshive/internal/runloop"
)

// PeriodicTask repeatedly collects a snapshot from its source and writes
// it to its sink, once per interval. Tick bodies and fetch completions
// run on the run loop; only the fetch itself happens off-loop.
//
// Start may be called from anywhere; Stop must be called on the run loop.
// After Stop returns no tick body runs and no in-flight fetch completion
// is written: stale completions are discarded.
type PeriodicTask struct {
	category Category
	loop     *runloop.Loop
	source   Source
	sink     Sink
	interval time.Duration
	logger   zerolog.Logger

	cancel context.CancelFunc

	// stopped is only touched on the run loop.
	stopped bool
}

// NewPeriodicTask creates a task bound to a source/sink pair. The task
// does not tick until Start is called.
func NewPeriodicTask(loop *runloop.Loop, category Category, source Source, sink Sink, interval time.Duration, logger zerolog.Logger) *PeriodicTask {
	return &PeriodicTask{
		category: category,
		loop:     loop,
		source:   source,
		sink:     sink,
		interval: interval,
		logger: logger.With().
			Str("component", "profiling_task").
			Str("category", string(category)).
			Logger(),
	}
}

// Start begins ticking every interval until Stop is called.
func (t *PeriodicTask) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx)
}

// Stop prevents any further tick from executing. It is synchronous: once
// it returns, neither a queued tick body nor an in-flight fetch
// completion will touch the sink.
func (t *PeriodicTask) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	t.cancel()
}

// run fires tick bodies onto the run loop on every interval boundary.
func (t *PeriodicTask) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.loop.Schedule(func() { t.tick(ctx) })
		}
	}
}

// tick runs on the loop: it launches the asynchronous fetch and arranges
// for the completion to be handled back on the loop.
func (t *PeriodicTask) tick(ctx context.Context) {
	if t.stopped {
		// Stop raced with an already-queued tick; drop it.
		return
	}
	metrics.ProfilingTicks.WithLabelValues(string(t.category)).Inc()

	go func() {
		// maxAge of zero: profiling never reuses a cached snapshot.
		snapshot, failures, err := t.source.Fetch(ctx, 0)
		t.loop.Schedule(func() { t.complete(snapshot, failures, err) })
	}()
}

// complete runs on the loop when a fetch resolves.
func (t *PeriodicTask) complete(snapshot Snapshot, failures []string, err error) {
	if t.stopped {
		return
	}
	if err != nil {
		metrics.FetchFailures.WithLabelValues(string(t.category)).Inc()
		t.logger.Warn().Err(err).Msg("Stats collection failed, skipping profile write")
		return
	}
	if len(failures) > 0 {
		t.logger.Warn().Strs("nodes", failures).Msg("Some nodes failed to report stats")
	}

	if err := t.sink.Write(snapshot); err != nil {
		metrics.ProfileWriteFailures.WithLabelValues(string(t.category)).Inc()
		t.logger.Error().Err(err).Msg("Failed to write profile log")
		return
	}
	metrics.ProfileWrites.WithLabelValues(string(t.category)).Inc()
}
