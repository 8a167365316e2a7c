package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/statshive/statshive/internal/profiling"
	"github.com/statshive/statshive/internal/sys/proc"
)

// ProcessesStatsSource collects stats of monitored processes on the local
// machine.
type ProcessesStatsSource struct {
	// services holds name substrings selecting the processes to monitor.
	// Empty means every process is monitored.
	services []string
	logger   zerolog.Logger
	cache    snapshotCache
}

// NewProcessesStatsSource creates a local processes stats source.
func NewProcessesStatsSource(services []string, logger zerolog.Logger) *ProcessesStatsSource {
	return &ProcessesStatsSource{
		services: services,
		logger:   logger.With().Str("component", "processes_stats").Logger(),
	}
}

// Fetch returns the local processes snapshot, reusing a cached one when it
// is no staler than maxAge.
func (s *ProcessesStatsSource) Fetch(ctx context.Context, maxAge time.Duration) (profiling.Snapshot, []string, error) {
	if snap, failures, ok := s.cache.get(maxAge); ok {
		return snap, failures, nil
	}

	snap, err := s.collect(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.cache.put(snap, nil)
	s.logger.Debug().Int("processes", len(snap.Processes)).Msg("Collected processes stats")
	return snap, nil, nil
}

// procEntry is one process observation used to assemble the snapshot and
// to aggregate children onto their monitored parents.
type procEntry struct {
	pid  int32
	ppid int32
	name string
	cpu  ProcessCPU
	mem  ProcessMemory
}

func (s *ProcessesStatsSource) collect(ctx context.Context) (ProcessesStats, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ProcessesStats{}, fmt.Errorf("failed to list processes: %w", err)
	}

	entries := make([]procEntry, 0, len(procs))
	for _, p := range procs {
		entry, ok := s.observe(ctx, p)
		if ok {
			entries = append(entries, entry)
		}
	}

	// Listening ports are best-effort: visibility depends on privileges.
	ports, err := proc.ListeningPorts()
	if err != nil {
		s.logger.Debug().Err(err).Msg("Could not resolve listening ports")
		ports = map[int32]int{}
	}

	snap := ProcessesStats{UTCTimestamp: time.Now().UTC().Unix()}
	for _, e := range entries {
		if !s.monitored(e.name) {
			continue
		}
		ps := ProcessStats{
			PID:         e.pid,
			ServiceName: e.name,
			Port:        ports[e.pid],
			CPU:         e.cpu,
			Memory:      e.mem,
		}
		for _, child := range entries {
			if child.ppid != e.pid {
				continue
			}
			ps.ChildrenNum++
			ps.ChildrenSum.CPUPercent += child.cpu.Percent
			ps.ChildrenSum.MemoryResident += child.mem.Resident
		}
		snap.Processes = append(snap.Processes, ps)
	}

	return snap, nil
}

// observe reads one process. Processes that vanish mid-read are skipped.
func (s *ProcessesStatsSource) observe(ctx context.Context, p *process.Process) (procEntry, bool) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return procEntry{}, false
	}
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return procEntry{}, false
	}

	entry := procEntry{pid: p.Pid, ppid: ppid, name: name}

	if times, err := p.TimesWithContext(ctx); err == nil {
		entry.cpu.User = times.User
		entry.cpu.System = times.System
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		entry.cpu.Percent = pct
	}
	if info, err := p.MemoryInfoWithContext(ctx); err == nil && info != nil {
		entry.mem.Resident = info.RSS
		entry.mem.Virtual = info.VMS
	}

	return entry, true
}

func (s *ProcessesStatsSource) monitored(name string) bool {
	if len(s.services) == 0 {
		return true
	}
	for _, svc := range s.services {
		if strings.Contains(name, svc) {
			return true
		}
	}
	return false
}
