package stats

import (
	"sync"
	"time"

	"github.com/statshive/statshive/internal/profiling"
)

// snapshotCache remembers the most recent snapshot so that sources can
// honor a caller-provided staleness bound without re-collecting.
// A maxAge of zero always bypasses the cache.
type snapshotCache struct {
	mu       sync.Mutex
	snapshot profiling.Snapshot
	failures []string
	at       time.Time
}

func (c *snapshotCache) get(maxAge time.Duration) (profiling.Snapshot, []string, bool) {
	if maxAge <= 0 {
		return nil, nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil || time.Since(c.at) > maxAge {
		return nil, nil, false
	}
	return c.snapshot, c.failures, true
}

func (c *snapshotCache) put(snapshot profiling.Snapshot, failures []string) {
	c.mu.Lock()
	c.snapshot = snapshot
	c.failures = failures
	c.at = time.Now()
	c.mu.Unlock()
}
