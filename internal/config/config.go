// Package config provides the daemon's configuration loading.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/statshive/statshive/internal/constants"
)

// ClusterConfig describes the cluster topology the daemon is part of.
type ClusterConfig struct {
	// Master is the private IP of the cluster master. The master serves
	// cluster-wide stats and runs the profiling manager.
	Master string `yaml:"master"`
	// Nodes lists the private IPs of all cluster nodes, master included.
	Nodes []string `yaml:"nodes"`
	// LoadBalancers lists the private IPs of nodes running HAProxy.
	LoadBalancers []string `yaml:"load_balancers"`
}

// ConfStoreConfig selects where profiling configuration entries live.
type ConfStoreConfig struct {
	// Backend is "zookeeper" or "file".
	Backend string `yaml:"backend"`
	// ZooKeeperServers are host:port addresses, used by the zookeeper
	// backend.
	ZooKeeperServers []string `yaml:"zookeeper_servers"`
	// ConfDir holds one JSON file per entry, used by the file backend.
	ConfDir string `yaml:"conf_dir"`
}

// HAProxyConfig locates the local HAProxy admin socket.
type HAProxyConfig struct {
	StatsSocket string `yaml:"stats_socket"`
}

// LogConfig controls the daemon's logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DaemonConfig is the full daemon configuration.
type DaemonConfig struct {
	// PrivateIP is this node's cluster-internal address. Stats snapshots
	// are keyed by it and roles are derived from it.
	PrivateIP string `yaml:"private_ip"`
	// ListenAddr is the stats HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`
	// ProfileDir is the root directory for profile log CSV files.
	ProfileDir string `yaml:"profile_dir"`
	// TrackedServices filters process stats by substring match on the
	// process name. Empty means all processes.
	TrackedServices []string `yaml:"tracked_services"`

	Log       LogConfig       `yaml:"log"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	ConfStore ConfStoreConfig `yaml:"conf_store"`
	HAProxy   HAProxyConfig   `yaml:"haproxy"`
}

// Default returns the daemon configuration defaults. A single-node
// cluster with a file-backed config store works out of the box.
func Default() *DaemonConfig {
	return &DaemonConfig{
		ListenAddr: fmt.Sprintf(":%d", constants.DefaultStatsPort),
		ProfileDir: constants.DefaultProfileDir,
		Log:        LogConfig{Level: "info"},
		ConfStore: ConfStoreConfig{
			Backend: "file",
			ConfDir: constants.DefaultConfDir,
		},
		HAProxy: HAProxyConfig{
			StatsSocket: constants.DefaultHAProxySocket,
		},
	}
}

// Load reads the config file at path. A missing file yields defaults;
// the file only needs to set what differs from them.
func Load(path string) (*DaemonConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c *DaemonConfig) Validate() error {
	if c.PrivateIP != "" && net.ParseIP(c.PrivateIP) == nil {
		return fmt.Errorf("invalid private_ip %q", c.PrivateIP)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	for _, ip := range append(append([]string{}, c.Cluster.Nodes...), c.Cluster.LoadBalancers...) {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid cluster address %q", ip)
		}
	}
	if c.Cluster.Master != "" && net.ParseIP(c.Cluster.Master) == nil {
		return fmt.Errorf("invalid cluster master %q", c.Cluster.Master)
	}

	switch c.ConfStore.Backend {
	case "zookeeper":
		if len(c.ConfStore.ZooKeeperServers) == 0 {
			return fmt.Errorf("zookeeper backend requires zookeeper_servers")
		}
	case "file":
		if c.ConfStore.ConfDir == "" {
			return fmt.Errorf("file backend requires conf_dir")
		}
	default:
		return fmt.Errorf("unknown conf_store backend %q", c.ConfStore.Backend)
	}

	return nil
}

// IsMaster reports whether this node is the cluster master.
func (c *DaemonConfig) IsMaster() bool {
	return c.Cluster.Master != "" && c.PrivateIP == c.Cluster.Master
}

// IsLoadBalancer reports whether this node runs HAProxy.
func (c *DaemonConfig) IsLoadBalancer() bool {
	for _, ip := range c.Cluster.LoadBalancers {
		if ip == c.PrivateIP {
			return true
		}
	}
	return false
}

// ClusterNodes returns the node list, defaulting to just this node when
// the config names none. A daemon with no topology still profiles itself.
func (c *DaemonConfig) ClusterNodes() []string {
	if len(c.Cluster.Nodes) > 0 {
		return c.Cluster.Nodes
	}
	if c.PrivateIP != "" {
		return []string{c.PrivateIP}
	}
	return []string{"127.0.0.1"}
}
