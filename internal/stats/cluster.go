package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/profiling"
	"github.com/statshive/statshive/internal/retry"
)

// nodeFetchRetry bounds per-node retries within one cluster fan-out. A
// node that stays down is reported as a failure, not retried forever.
var nodeFetchRetry = retry.Config{
	MaxRetries:     2,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     time.Second,
	Jitter:         0.2,
}

// ClusterSourceConfig configures a cluster-wide stats source.
type ClusterSourceConfig struct {
	// Nodes are the private IPs of the cluster nodes to query.
	Nodes []string
	// Port is the stats API port every node listens on.
	Port int
	// Client is the HTTP client for fan-out requests. A nil client gets a
	// default with a 10s timeout.
	Client *http.Client
	// Logger is the parent logger.
	Logger zerolog.Logger
}

func (c ClusterSourceConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// NewClusterNodesSource returns a source assembling node stats from every
// cluster node.
func NewClusterNodesSource(cfg ClusterSourceConfig) *ClusterSource[NodeStats] {
	return newClusterSource[NodeStats](cfg, "node", "cluster_nodes_stats")
}

// NewClusterProcessesSource returns a source assembling processes stats
// from every cluster node.
func NewClusterProcessesSource(cfg ClusterSourceConfig) *ClusterSource[ProcessesStats] {
	return newClusterSource[ProcessesStats](cfg, "processes", "cluster_processes_stats")
}

// NewClusterProxiesSource returns a source assembling proxies stats from
// the cluster's LB nodes. cfg.Nodes must list only LB nodes.
func NewClusterProxiesSource(cfg ClusterSourceConfig) *ClusterSource[ProxiesStats] {
	return newClusterSource[ProxiesStats](cfg, "proxies", "cluster_proxies_stats")
}

// ClusterSource fans out to the local stats API of every cluster node and
// assembles the per-node snapshots into a map keyed by node IP.
type ClusterSource[T any] struct {
	nodes  []string
	port   int
	route  string
	client *http.Client
	logger zerolog.Logger
	cache  snapshotCache
}

func newClusterSource[T any](cfg ClusterSourceConfig, route, component string) *ClusterSource[T] {
	return &ClusterSource[T]{
		nodes:  cfg.Nodes,
		port:   cfg.Port,
		route:  route,
		client: cfg.client(),
		logger: cfg.Logger.With().Str("component", component).Logger(),
	}
}

// Fetch collects snapshots from all nodes concurrently. failures lists the
// IPs of nodes that did not respond; an error is returned only when no
// node responded at all.
func (s *ClusterSource[T]) Fetch(ctx context.Context, maxAge time.Duration) (profiling.Snapshot, []string, error) {
	if snap, failures, ok := s.cache.get(maxAge); ok {
		return snap, failures, nil
	}

	type result struct {
		ip   string
		snap T
		err  error
	}

	results := make(chan result, len(s.nodes))
	var wg sync.WaitGroup
	for _, ip := range s.nodes {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			var snap T
			err := retry.Do(ctx, nodeFetchRetry, func() error {
				var fetchErr error
				snap, fetchErr = s.fetchNode(ctx, ip, maxAge)
				return fetchErr
			}, nil)
			results <- result{ip: ip, snap: snap, err: err}
		}(ip)
	}
	wg.Wait()
	close(results)

	cluster := make(map[string]T, len(s.nodes))
	var failures []string
	for r := range results {
		if r.err != nil {
			s.logger.Warn().Err(r.err).Str("node", r.ip).Msg("Node failed to report stats")
			failures = append(failures, r.ip)
			continue
		}
		cluster[r.ip] = r.snap
	}
	sort.Strings(failures)

	if len(cluster) == 0 && len(s.nodes) > 0 {
		return nil, failures, fmt.Errorf("no node reported %s stats", s.route)
	}

	s.cache.put(cluster, failures)
	return cluster, failures, nil
}

func (s *ClusterSource[T]) fetchNode(ctx context.Context, ip string, maxAge time.Duration) (T, error) {
	var zero T

	url := fmt.Sprintf("http://%s:%d/stats/local/%s?max_age=%d",
		ip, s.port, s.route, int(maxAge.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return zero, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	var snap T
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return zero, fmt.Errorf("failed to decode node response: %w", err)
	}
	return snap, nil
}
