// Package stats provides node, process and proxy statistics snapshots
// together with their local collectors and cluster-wide sources.
package stats

// NodeStats is a point-in-time snapshot of one machine's system stats.
type NodeStats struct {
	UTCTimestamp int64           `json:"utc_timestamp"`
	PrivateIP    string          `json:"private_ip"`
	CPU          NodeCPU         `json:"cpu"`
	Memory       NodeMemory      `json:"memory"`
	Partitions   []NodePartition `json:"partitions"`
	LoadAvg      NodeLoadAvg     `json:"loadavg"`
}

type NodeCPU struct {
	Percent float64 `json:"percent"`
	Count   int     `json:"count"`
}

type NodeMemory struct {
	Available uint64 `json:"available"`
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
}

type NodePartition struct {
	Mountpoint string `json:"mountpoint"`
	Free       uint64 `json:"free"`
	Used       uint64 `json:"used"`
}

type NodeLoadAvg struct {
	Last1Min  float64 `json:"last_1min"`
	Last5Min  float64 `json:"last_5min"`
	Last15Min float64 `json:"last_15min"`
}

// ProcessesStats is a snapshot of the monitored processes on one machine.
type ProcessesStats struct {
	UTCTimestamp int64          `json:"utc_timestamp"`
	Processes    []ProcessStats `json:"processes"`
}

// ProcessStats describes one monitored process and the aggregate of its
// direct children.
type ProcessStats struct {
	PID         int32            `json:"pid"`
	ServiceName string           `json:"service_name"`
	Port        int              `json:"port"`
	CPU         ProcessCPU       `json:"cpu"`
	Memory      ProcessMemory    `json:"memory"`
	ChildrenSum ChildrenStatsSum `json:"children_stats_sum"`
	ChildrenNum int              `json:"children_num"`
}

type ProcessCPU struct {
	User    float64 `json:"user"`
	System  float64 `json:"system"`
	Percent float64 `json:"percent"`
}

type ProcessMemory struct {
	Resident uint64 `json:"resident"`
	Virtual  uint64 `json:"virtual"`
}

// ChildrenStatsSum aggregates resource usage of a process's children.
type ChildrenStatsSum struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryResident uint64  `json:"memory_resident"`
}

// ProxiesStats is a snapshot of the HAProxy proxies on one LB machine.
type ProxiesStats struct {
	UTCTimestamp int64        `json:"utc_timestamp"`
	Proxies      []ProxyStats `json:"proxies"`
}

// ProxyStats describes one HAProxy proxy (listener + its backend).
type ProxyStats struct {
	Name         string        `json:"name"`
	Frontend     ProxyFrontend `json:"frontend"`
	Backend      ProxyBackend  `json:"backend"`
	ServersCount int           `json:"servers_count"`
}

// ProxyFrontend carries HAProxy frontend counters. Field names follow the
// HAProxy stats CSV column names.
type ProxyFrontend struct {
	BytesIn       uint64 `json:"bin"`
	BytesOut      uint64 `json:"bout"`
	CurrentConns  uint64 `json:"scur"`
	MaxConns      uint64 `json:"smax"`
	Rate          uint64 `json:"rate"`
	RequestRate   uint64 `json:"req_rate"`
	RequestsTotal uint64 `json:"req_tot"`
	Responses4xx  uint64 `json:"hrsp_4xx"`
	Responses5xx  uint64 `json:"hrsp_5xx"`
}

// ProxyBackend carries HAProxy backend counters.
type ProxyBackend struct {
	QueuedRequests uint64 `json:"qcur"`
	CurrentConns   uint64 `json:"scur"`
	Responses5xx   uint64 `json:"hrsp_5xx"`
	QueueTimeMs    uint64 `json:"qtime"`
	ResponseTimeMs uint64 `json:"rtime"`
}

// Cluster snapshots map node private IP to that node's local snapshot.
// These are aliases so that generic cluster sources and profile logs agree
// on the snapshot's dynamic type.

type ClusterNodes = map[string]NodeStats

type ClusterProcesses = map[string]ProcessesStats

type ClusterProxies = map[string]ProxiesStats
