// Package constants defines shared configuration constants.
package constants

import "time"

var (
	ConfigFile = "config.yaml"

	// DefaultProfileDir is where profile logs are written.
	DefaultProfileDir = "/var/log/statshive/profile"

	// DefaultConfDir holds config entry files for the file-backed
	// config store.
	DefaultConfDir = "/etc/statshive/conf.d"

	// DefaultHAProxySocket is the HAProxy stats socket queried on LB nodes.
	DefaultHAProxySocket = "/var/run/haproxy/stats.sock"
)

// Config store entries watched by the profiling manager, one per stats
// category.
const (
	NodesProfilingEntry     = "/statshive/profiling/nodes"
	ProcessesProfilingEntry = "/statshive/profiling/processes"
	ProxiesProfilingEntry   = "/statshive/profiling/proxies"
)

const (
	// DefaultStatsPort is the port the stats HTTP API listens on.
	DefaultStatsPort = 4378

	// DefaultZooKeeperSessionTimeout is the ZooKeeper session timeout.
	DefaultZooKeeperSessionTimeout = 10 * time.Second

	// DefaultCurrentStatsMaxAge bounds snapshot staleness for API reads
	// when the request does not specify one.
	DefaultCurrentStatsMaxAge = 10 * time.Second
)
