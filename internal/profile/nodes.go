package profile

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/profiling"
	"github.com/statshive/statshive/internal/stats"
)

// NodesLog writes cluster node snapshots into one CSV file per node,
// laid out as <root>/node/<ip>.csv. Columns follow the include-lists
// policy the log was created with.
type NodesLog struct {
	include stats.IncludeLists
	columns []string
	tables  *tableSet
	logger  zerolog.Logger
}

// NewNodesLog creates a nodes profile log rooted at dir.
func NewNodesLog(dir string, include stats.IncludeLists, logger zerolog.Logger) *NodesLog {
	return &NodesLog{
		include: include,
		columns: nodeColumns(include),
		tables:  newTableSet(dir),
		logger:  logger.With().Str("component", "nodes_profile_log").Logger(),
	}
}

// Write appends one row per cluster node.
func (l *NodesLog) Write(snapshot profiling.Snapshot) error {
	cluster, ok := snapshot.(stats.ClusterNodes)
	if !ok {
		return fmt.Errorf("unexpected snapshot type %T", snapshot)
	}

	for _, ip := range sortedKeys(cluster) {
		t, err := l.tables.table("node/"+ip+".csv", l.columns)
		if err != nil {
			return err
		}
		if err := t.append(l.row(cluster[ip])); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all per-node files.
func (l *NodesLog) Close() error {
	return l.tables.Close()
}

// nodeColumns flattens the node include lists into CSV column names.
func nodeColumns(include stats.IncludeLists) []string {
	var cols []string
	for _, field := range include.Fields("node") {
		switch field {
		case "utc_timestamp":
			cols = append(cols, "utc_timestamp")
		case "cpu":
			for _, sub := range include.Fields("node.cpu") {
				cols = append(cols, "cpu_"+sub)
			}
		case "memory":
			for _, sub := range include.Fields("node.memory") {
				cols = append(cols, "memory_"+sub)
			}
		case "partitions":
			// Partition sets differ per node; the log records cluster-wide
			// comparable sums.
			for _, sub := range include.Fields("node.partition") {
				cols = append(cols, "partitions_"+sub)
			}
		case "loadavg":
			for _, sub := range include.Fields("node.loadavg") {
				cols = append(cols, "loadavg_"+sub)
			}
		}
	}
	return cols
}

func (l *NodesLog) row(ns stats.NodeStats) []string {
	var row []string
	for _, field := range l.include.Fields("node") {
		switch field {
		case "utc_timestamp":
			row = append(row, fmtI64(ns.UTCTimestamp))
		case "cpu":
			for _, sub := range l.include.Fields("node.cpu") {
				switch sub {
				case "percent":
					row = append(row, fmtF(ns.CPU.Percent))
				case "count":
					row = append(row, fmtI(ns.CPU.Count))
				}
			}
		case "memory":
			for _, sub := range l.include.Fields("node.memory") {
				switch sub {
				case "available":
					row = append(row, fmtU(ns.Memory.Available))
				case "total":
					row = append(row, fmtU(ns.Memory.Total))
				case "used":
					row = append(row, fmtU(ns.Memory.Used))
				}
			}
		case "partitions":
			var free, used uint64
			for _, p := range ns.Partitions {
				free += p.Free
				used += p.Used
			}
			for _, sub := range l.include.Fields("node.partition") {
				switch sub {
				case "free":
					row = append(row, fmtU(free))
				case "used":
					row = append(row, fmtU(used))
				}
			}
		case "loadavg":
			for _, sub := range l.include.Fields("node.loadavg") {
				switch sub {
				case "last_1min":
					row = append(row, fmtF(ns.LoadAvg.Last1Min))
				case "last_5min":
					row = append(row, fmtF(ns.LoadAvg.Last5Min))
				case "last_15min":
					row = append(row, fmtF(ns.LoadAvg.Last15Min))
				}
			}
		}
	}
	return row
}
