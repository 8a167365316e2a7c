package profile

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/profiling"
	"github.com/statshive/statshive/internal/stats"
)

// ProcessesLog writes cluster processes snapshots as per-service summary
// files, laid out as <root>/processes/<ip>/<service>.csv. When detailed
// mode is on it additionally writes one row per process instance into
// <service>-detailed.csv. Columns follow the include-lists policy the log
// was created with.
type ProcessesLog struct {
	include  stats.IncludeLists
	summary  []string
	detailed []string
	tables   *tableSet
	logger   zerolog.Logger

	// writeDetailed is only read and toggled on the profiling run loop.
	writeDetailed bool
}

// NewProcessesLog creates a processes profile log rooted at dir.
func NewProcessesLog(dir string, include stats.IncludeLists, logger zerolog.Logger) *ProcessesLog {
	return &ProcessesLog{
		include:  include,
		summary:  processSummaryColumns(include),
		detailed: processDetailedColumns(include),
		tables:   newTableSet(dir),
		logger:   logger.With().Str("component", "processes_profile_log").Logger(),
	}
}

// SetWriteDetailed toggles per-instance detail rows.
func (l *ProcessesLog) SetWriteDetailed(detailed bool) {
	l.writeDetailed = detailed
}

// Write appends one summary row per (node, service) and, in detailed
// mode, one row per process instance.
func (l *ProcessesLog) Write(snapshot profiling.Snapshot) error {
	cluster, ok := snapshot.(stats.ClusterProcesses)
	if !ok {
		return fmt.Errorf("unexpected snapshot type %T", snapshot)
	}

	for _, ip := range sortedKeys(cluster) {
		snap := cluster[ip]
		byService := groupByService(snap.Processes)

		for _, service := range sortedKeys(byService) {
			procs := byService[service]

			t, err := l.tables.table(
				fmt.Sprintf("processes/%s/%s.csv", ip, service),
				l.summary,
			)
			if err != nil {
				return err
			}
			if err := t.append(l.summaryRow(snap.UTCTimestamp, procs)); err != nil {
				return err
			}

			if !l.writeDetailed {
				continue
			}
			dt, err := l.tables.table(
				fmt.Sprintf("processes/%s/%s-detailed.csv", ip, service),
				l.detailed,
			)
			if err != nil {
				return err
			}
			for _, p := range procs {
				if err := dt.append(l.detailedRow(snap.UTCTimestamp, p)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Close closes all per-service files.
func (l *ProcessesLog) Close() error {
	return l.tables.Close()
}

func groupByService(procs []stats.ProcessStats) map[string][]stats.ProcessStats {
	byService := make(map[string][]stats.ProcessStats)
	for _, p := range procs {
		byService[p.ServiceName] = append(byService[p.ServiceName], p)
	}
	return byService
}

// processSummaryColumns flattens the process include lists into the
// per-service summary column names. Summary rows aggregate over the
// service's instances, so they carry an instance count instead of
// pid/port.
func processSummaryColumns(include stats.IncludeLists) []string {
	cols := []string{"utc_timestamp", "instances"}
	for _, field := range include.Fields("process") {
		switch field {
		case "cpu":
			for _, sub := range include.Fields("process.cpu") {
				cols = append(cols, "cpu_"+sub)
			}
		case "memory":
			for _, sub := range include.Fields("process.memory") {
				cols = append(cols, "memory_"+sub)
			}
		case "children_stats_sum":
			cols = append(cols, "children_num")
			for _, sub := range include.Fields("process.children_stats_sum") {
				cols = append(cols, "children_"+sub)
			}
		}
	}
	return cols
}

// processDetailedColumns flattens the process include lists into the
// per-instance column names.
func processDetailedColumns(include stats.IncludeLists) []string {
	cols := []string{"utc_timestamp", "pid"}
	for _, field := range include.Fields("process") {
		switch field {
		case "port":
			cols = append(cols, "port")
		case "cpu":
			for _, sub := range include.Fields("process.cpu") {
				cols = append(cols, "cpu_"+sub)
			}
		case "memory":
			for _, sub := range include.Fields("process.memory") {
				cols = append(cols, "memory_"+sub)
			}
		case "children_stats_sum":
			cols = append(cols, "children_num")
			for _, sub := range include.Fields("process.children_stats_sum") {
				cols = append(cols, "children_"+sub)
			}
		}
	}
	return cols
}

func (l *ProcessesLog) summaryRow(ts int64, procs []stats.ProcessStats) []string {
	var cpu stats.ProcessCPU
	var mem stats.ProcessMemory
	var children stats.ChildrenStatsSum
	var childNum int
	for _, p := range procs {
		cpu.User += p.CPU.User
		cpu.System += p.CPU.System
		cpu.Percent += p.CPU.Percent
		mem.Resident += p.Memory.Resident
		mem.Virtual += p.Memory.Virtual
		childNum += p.ChildrenNum
		children.CPUPercent += p.ChildrenSum.CPUPercent
		children.MemoryResident += p.ChildrenSum.MemoryResident
	}

	row := []string{fmtI64(ts), fmtI(len(procs))}
	for _, field := range l.include.Fields("process") {
		switch field {
		case "cpu":
			for _, sub := range l.include.Fields("process.cpu") {
				row = append(row, fmtF(processCPUField(cpu, sub)))
			}
		case "memory":
			for _, sub := range l.include.Fields("process.memory") {
				row = append(row, fmtU(processMemoryField(mem, sub)))
			}
		case "children_stats_sum":
			row = append(row, fmtI(childNum))
			for _, sub := range l.include.Fields("process.children_stats_sum") {
				row = append(row, childrenSumField(children, sub))
			}
		}
	}
	return row
}

func (l *ProcessesLog) detailedRow(ts int64, p stats.ProcessStats) []string {
	row := []string{fmtI64(ts), fmtI(int(p.PID))}
	for _, field := range l.include.Fields("process") {
		switch field {
		case "port":
			row = append(row, fmtI(p.Port))
		case "cpu":
			for _, sub := range l.include.Fields("process.cpu") {
				row = append(row, fmtF(processCPUField(p.CPU, sub)))
			}
		case "memory":
			for _, sub := range l.include.Fields("process.memory") {
				row = append(row, fmtU(processMemoryField(p.Memory, sub)))
			}
		case "children_stats_sum":
			row = append(row, fmtI(p.ChildrenNum))
			for _, sub := range l.include.Fields("process.children_stats_sum") {
				row = append(row, childrenSumField(p.ChildrenSum, sub))
			}
		}
	}
	return row
}

func processCPUField(c stats.ProcessCPU, name string) float64 {
	switch name {
	case "user":
		return c.User
	case "system":
		return c.System
	case "percent":
		return c.Percent
	}
	return 0
}

func processMemoryField(m stats.ProcessMemory, name string) uint64 {
	switch name {
	case "resident":
		return m.Resident
	case "virtual":
		return m.Virtual
	}
	return 0
}

func childrenSumField(c stats.ChildrenStatsSum, name string) string {
	switch name {
	case "cpu_percent":
		return fmtF(c.CPUPercent)
	case "memory_resident":
		return fmtU(c.MemoryResident)
	}
	return "0"
}
