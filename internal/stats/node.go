package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/statshive/statshive/internal/profiling"
)

// NodeStatsSource collects system stats of the local machine.
type NodeStatsSource struct {
	privateIP string
	logger    zerolog.Logger
	cache     snapshotCache
}

// NewNodeStatsSource creates a local node stats source. privateIP
// identifies this machine in cluster snapshots.
func NewNodeStatsSource(privateIP string, logger zerolog.Logger) *NodeStatsSource {
	return &NodeStatsSource{
		privateIP: privateIP,
		logger:    logger.With().Str("component", "node_stats").Logger(),
	}
}

// Fetch returns the local node snapshot, reusing a cached one when it is
// no staler than maxAge.
func (s *NodeStatsSource) Fetch(ctx context.Context, maxAge time.Duration) (profiling.Snapshot, []string, error) {
	if snap, failures, ok := s.cache.get(maxAge); ok {
		return snap, failures, nil
	}

	snap, err := s.collect(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.cache.put(snap, nil)
	s.logger.Debug().Msg("Collected node stats")
	return snap, nil, nil
}

func (s *NodeStatsSource) collect(ctx context.Context) (NodeStats, error) {
	snap := NodeStats{
		UTCTimestamp: time.Now().UTC().Unix(),
		PrivateIP:    s.privateIP,
	}

	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return NodeStats{}, fmt.Errorf("failed to get CPU percent: %w", err)
	}
	if len(percentages) > 0 {
		snap.CPU.Percent = percentages[0]
	}
	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return NodeStats{}, fmt.Errorf("failed to get CPU count: %w", err)
	}
	snap.CPU.Count = count

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return NodeStats{}, fmt.Errorf("failed to get memory stats: %w", err)
	}
	snap.Memory = NodeMemory{
		Available: vm.Available,
		Total:     vm.Total,
		Used:      vm.Used,
	}

	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return NodeStats{}, fmt.Errorf("failed to list partitions: %w", err)
	}
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			// Pseudo filesystems and unmounted devices are expected to fail.
			s.logger.Debug().Err(err).Str("mountpoint", p.Mountpoint).Msg("Skipping partition")
			continue
		}
		snap.Partitions = append(snap.Partitions, NodePartition{
			Mountpoint: p.Mountpoint,
			Free:       usage.Free,
			Used:       usage.Used,
		})
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return NodeStats{}, fmt.Errorf("failed to get load average: %w", err)
	}
	snap.LoadAvg = NodeLoadAvg{
		Last1Min:  avg.Load1,
		Last5Min:  avg.Load5,
		Last15Min: avg.Load15,
	}

	return snap, nil
}
