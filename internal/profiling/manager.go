package profiling

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/confstore"
	"github.com/statshive/statshive/internal/constants"
	"github.com/statshive/statshive/internal/runloop"
)

// SinkFactory creates the profile sink for a category. The manager calls
// it at most once per category, the first time the category is enabled.
type SinkFactory func(category Category) (Sink, error)

// slot is the per-category lifecycle state. Sinks outlive tasks: once
// created a sink is retained across disable/enable cycles so re-enabling
// appends to the same profile logs.
type slot struct {
	sink Sink
	task *PeriodicTask
}

// Manager owns one profiling slot per stats category and drives it from
// configuration entry changes. All state transitions run on the run loop.
type Manager struct {
	loop    *runloop.Loop
	sources map[Category]Source
	newSink SinkFactory
	slots   map[Category]*slot
	logger  zerolog.Logger
}

// NewManager creates a manager with one source per category. Sinks are
// created lazily through newSink.
func NewManager(loop *runloop.Loop, sources map[Category]Source, newSink SinkFactory, logger zerolog.Logger) *Manager {
	slots := make(map[Category]*slot, len(Categories))
	for _, c := range Categories {
		slots[c] = &slot{}
	}
	return &Manager{
		loop:    loop,
		sources: sources,
		newSink: newSink,
		slots:   slots,
		logger:  logger.With().Str("component", "profiling_manager").Logger(),
	}
}

// entryForCategory maps a category to its config store entry.
func entryForCategory(c Category) string {
	switch c {
	case CategoryNodes:
		return constants.NodesProfilingEntry
	case CategoryProcesses:
		return constants.ProcessesProfilingEntry
	case CategoryProxies:
		return constants.ProxiesProfilingEntry
	}
	panic(fmt.Sprintf("unknown profiling category %q", c))
}

// Watch subscribes the manager to each category's configuration entry.
// Watcher callbacks arrive on the watcher's delivery goroutine and are
// bridged onto the run loop, so delivery never blocks on profiling work.
func (m *Manager) Watch(w confstore.Watcher) error {
	for _, c := range Categories {
		category := c
		fn := m.bridgeToLoop(func(data []byte, stat confstore.Stat) {
			m.applyConfig(category, data, stat)
		})
		if err := w.Watch(entryForCategory(category), fn); err != nil {
			return fmt.Errorf("watch %s profiling config: %w", category, err)
		}
	}
	return nil
}

// bridgeToLoop wraps a config callback so it runs on the run loop.
func (m *Manager) bridgeToLoop(fn confstore.WatchFunc) confstore.WatchFunc {
	return func(data []byte, stat confstore.Stat) {
		m.loop.Schedule(func() { fn(data, stat) })
	}
}

// applyConfig runs on the loop for every delivery of a category's config
// entry. An absent entry leaves the category untouched; a malformed one
// is logged and ignored, keeping whatever task is currently running.
func (m *Manager) applyConfig(category Category, data []byte, stat confstore.Stat) {
	logger := m.logger.With().Str("category", string(category)).Logger()

	if len(data) == 0 {
		logger.Debug().Msg("Profiling config entry absent, leaving state unchanged")
		return
	}

	cfg, err := ParseCategoryConfig(data, category.supportsDetailed())
	if err != nil {
		logger.Error().Err(err).Int32("version", stat.Version).
			Str("config", string(data)).
			Msg("Ignoring malformed profiling config")
		return
	}

	s := m.slots[category]

	if !cfg.Enabled {
		if s.task != nil {
			s.task.Stop()
			s.task = nil
			logger.Info().Msg("Profiling disabled")
		}
		return
	}

	if s.sink == nil {
		sink, err := m.newSink(category)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create profile sink")
			return
		}
		s.sink = sink
	}
	if ds, ok := s.sink.(DetailSink); ok && category.supportsDetailed() {
		ds.SetWriteDetailed(cfg.Detailed)
	}

	// Any enabled delivery restarts the task so a changed interval takes
	// effect immediately.
	if s.task != nil {
		s.task.Stop()
	}
	s.task = NewPeriodicTask(m.loop, category, m.sources[category], s.sink, cfg.Interval, m.logger)
	s.task.Start()

	logger.Info().
		Dur("interval", cfg.Interval).
		Bool("detailed", cfg.Detailed).
		Msg("Profiling enabled")
}

// Shutdown stops all running tasks. It schedules the stop onto the run
// loop and waits for it to execute, so it must not be called from the
// loop itself.
func (m *Manager) Shutdown() {
	done := make(chan struct{})
	m.loop.Schedule(func() {
		for _, s := range m.slots {
			if s.task != nil {
				s.task.Stop()
				s.task = nil
			}
		}
		close(done)
	})
	<-done
	m.logger.Debug().Msg("Profiling manager stopped")
}
