package profiling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/statshive/statshive/internal/runloop"
)

// fakeSource returns canned results and can hold a fetch open until the
// test releases it.
type fakeSource struct {
	mu       sync.Mutex
	snapshot Snapshot
	failures []string
	err      error
	gate     chan struct{} // fetch blocks on this when non-nil
}

func (s *fakeSource) Fetch(ctx context.Context, maxAge time.Duration) (Snapshot, []string, error) {
	s.mu.Lock()
	snapshot, failures, err, gate := s.snapshot, s.failures, s.err, s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return snapshot, failures, err
}

func (s *fakeSource) set(snapshot Snapshot, failures []string, err error) {
	s.mu.Lock()
	s.snapshot, s.failures, s.err = snapshot, failures, err
	s.mu.Unlock()
}

// fakeSink delivers every written snapshot to a channel.
type fakeSink struct {
	writes chan Snapshot
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{writes: make(chan Snapshot, 64)}
}

func (s *fakeSink) Write(snapshot Snapshot) error {
	s.writes <- snapshot
	return s.err
}

func startLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	loop := runloop.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	return loop
}

// onLoop runs fn on the loop and waits for it to finish.
func onLoop(t *testing.T, loop *runloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.Schedule(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not execute scheduled callback")
	}
}

func waitWrite(t *testing.T, sink *fakeSink) Snapshot {
	t.Helper()
	select {
	case snapshot := <-sink.writes:
		return snapshot
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a profile write")
		return nil
	}
}

func TestPeriodicTask_WritesEveryInterval(t *testing.T) {
	loop := startLoop(t)
	source := &fakeSource{snapshot: "snap"}
	sink := newFakeSink()

	task := NewPeriodicTask(loop, CategoryNodes, source, sink, 5*time.Millisecond, zerolog.Nop())
	task.Start()
	defer onLoop(t, loop, task.Stop)

	require.Equal(t, "snap", waitWrite(t, sink))
	require.Equal(t, "snap", waitWrite(t, sink))
}

func TestPeriodicTask_StopPreventsFurtherWrites(t *testing.T) {
	loop := startLoop(t)
	source := &fakeSource{snapshot: "snap"}
	sink := newFakeSink()

	task := NewPeriodicTask(loop, CategoryNodes, source, sink, 5*time.Millisecond, zerolog.Nop())
	task.Start()
	waitWrite(t, sink)

	onLoop(t, loop, task.Stop)

	// Drain anything that was already in flight when Stop ran, then
	// verify silence.
	deadline := time.After(50 * time.Millisecond)
drain:
	for {
		select {
		case <-sink.writes:
		case <-deadline:
			break drain
		}
	}
	select {
	case <-sink.writes:
		t.Fatal("sink written after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeriodicTask_StopDiscardsInFlightFetch(t *testing.T) {
	loop := startLoop(t)
	gate := make(chan struct{})
	source := &fakeSource{snapshot: "snap", gate: gate}
	sink := newFakeSink()

	task := NewPeriodicTask(loop, CategoryNodes, source, sink, 5*time.Millisecond, zerolog.Nop())
	task.Start()

	// Give the first tick time to launch its fetch, then stop the task
	// while the fetch is still blocked.
	time.Sleep(20 * time.Millisecond)
	onLoop(t, loop, task.Stop)
	close(gate)

	select {
	case <-sink.writes:
		t.Fatal("stale fetch completion reached the sink")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeriodicTask_FetchErrorSkipsWriteButKeepsTicking(t *testing.T) {
	loop := startLoop(t)
	source := &fakeSource{err: errors.New("collection failed")}
	sink := newFakeSink()

	task := NewPeriodicTask(loop, CategoryNodes, source, sink, 5*time.Millisecond, zerolog.Nop())
	task.Start()
	defer onLoop(t, loop, task.Stop)

	select {
	case <-sink.writes:
		t.Fatal("failed fetch must not be written")
	case <-time.After(30 * time.Millisecond):
	}

	// Once the source recovers, writes resume without a restart.
	source.set("recovered", nil, nil)
	require.Equal(t, "recovered", waitWrite(t, sink))
}

func TestPeriodicTask_PartialFailuresStillWritten(t *testing.T) {
	loop := startLoop(t)
	source := &fakeSource{snapshot: "partial", failures: []string{"10.0.0.9"}}
	sink := newFakeSink()

	task := NewPeriodicTask(loop, CategoryNodes, source, sink, 5*time.Millisecond, zerolog.Nop())
	task.Start()
	defer onLoop(t, loop, task.Stop)

	require.Equal(t, "partial", waitWrite(t, sink))
}

func TestPeriodicTask_SinkErrorDoesNotStopTask(t *testing.T) {
	loop := startLoop(t)
	source := &fakeSource{snapshot: "snap"}
	sink := newFakeSink()
	sink.err = errors.New("disk full")

	task := NewPeriodicTask(loop, CategoryNodes, source, sink, 5*time.Millisecond, zerolog.Nop())
	task.Start()
	defer onLoop(t, loop, task.Stop)

	// The write error is logged, the task keeps ticking.
	waitWrite(t, sink)
	waitWrite(t, sink)
}
