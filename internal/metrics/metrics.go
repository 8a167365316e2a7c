// Package metrics exposes the daemon's self metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProfilingTicks counts periodic task tick firings per category.
	ProfilingTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statshive_profiling_ticks_total",
		Help: "Number of profiling task ticks, per stats category.",
	}, []string{"category"})

	// FetchFailures counts ticks whose stats collection failed entirely.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statshive_profiling_fetch_failures_total",
		Help: "Number of profiling ticks skipped due to failed stats collection.",
	}, []string{"category"})

	// ProfileWrites counts snapshots persisted to profile logs.
	ProfileWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statshive_profile_writes_total",
		Help: "Number of snapshots written to profile logs.",
	}, []string{"category"})

	// ProfileWriteFailures counts failed profile log writes.
	ProfileWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statshive_profile_write_failures_total",
		Help: "Number of failed profile log writes.",
	}, []string{"category"})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
