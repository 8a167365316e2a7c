// Package profiling drives the lifecycle of per-category stats profiling
// tasks. The manager watches one configuration entry per stats category
// and starts, stops or restarts the category's periodic
// collect-and-persist task in response to configuration changes.
package profiling

import (
	"context"
	"time"
)

// Category identifies one independently configurable stats domain.
type Category string

const (
	CategoryNodes     Category = "nodes"
	CategoryProcesses Category = "processes"
	CategoryProxies   Category = "proxies"
)

// Categories lists all profiling categories in a stable order.
var Categories = []Category{CategoryNodes, CategoryProcesses, CategoryProxies}

// supportsDetailed reports whether a category's profile log has a
// detail-mode flag. Node stats have no detailed form.
func (c Category) supportsDetailed() bool {
	return c == CategoryProcesses || c == CategoryProxies
}

// Snapshot is an opaque point-in-time stats value. Sources produce it and
// sinks persist it; the profiling core never inspects it.
type Snapshot any

// Source supplies stats snapshots on demand.
type Source interface {
	// Fetch returns a snapshot no staler than maxAge. maxAge of zero
	// forces a fresh collection. failures lists cluster nodes that did
	// not report; a non-nil error means no usable snapshot was produced.
	Fetch(ctx context.Context, maxAge time.Duration) (snapshot Snapshot, failures []string, err error)
}

// Sink persists snapshots. Implementations own durability and format.
type Sink interface {
	Write(snapshot Snapshot) error
}

// DetailSink is a Sink with a switchable detail mode.
type DetailSink interface {
	Sink
	SetWriteDetailed(detailed bool)
}
