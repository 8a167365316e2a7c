// Package daemon provides the statshive daemon commands.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/statshive/statshive/internal/config"
	"github.com/statshive/statshive/internal/confstore"
	"github.com/statshive/statshive/internal/constants"
	"github.com/statshive/statshive/internal/errors"
	"github.com/statshive/statshive/internal/logging"
	"github.com/statshive/statshive/internal/profile"
	"github.com/statshive/statshive/internal/profiling"
	"github.com/statshive/statshive/internal/runloop"
	"github.com/statshive/statshive/internal/server"
	"github.com/statshive/statshive/internal/stats"
	"github.com/statshive/statshive/pkg/version"
)

// RegisterCommands adds the daemon commands to the root command.
func RegisterCommands(root *cobra.Command) {
	root.AddCommand(NewStartCmd())
}

// NewStartCmd creates the start command.
func NewStartCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the statshive daemon",
		Long: `Start the statshive daemon.

Every node serves its own stats over the local HTTP API. The cluster
master additionally assembles cluster-wide stats and runs the profiling
manager, which watches the profiling configuration entries and writes
profile logs for the enabled stats categories. Load balancer nodes also
serve HAProxy stats.

The daemon runs until stopped by SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c",
		filepath.Join("/etc/statshive", constants.ConfigFile),
		"path to the daemon configuration file")

	return cmd
}

func runDaemon(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.Info().
		Str("version", version.Version).
		Str("private_ip", cfg.PrivateIP).
		Bool("master", cfg.IsMaster()).
		Bool("load_balancer", cfg.IsLoadBalancer()).
		Msg("Starting statshive")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The loop outlives the signal context: the profiling manager needs it
	// up to run its shutdown sequence.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := runloop.New(logger)
	go loop.Run(loopCtx)

	port, err := listenPort(cfg.ListenAddr)
	if err != nil {
		return err
	}

	clusterCfg := stats.ClusterSourceConfig{Nodes: cfg.ClusterNodes(), Port: port, Logger: logger}
	lbCfg := clusterCfg
	lbCfg.Nodes = cfg.Cluster.LoadBalancers

	sources := server.Sources{
		LocalNode:        stats.NewNodeStatsSource(cfg.PrivateIP, logger),
		LocalProcesses:   stats.NewProcessesStatsSource(cfg.TrackedServices, logger),
		LocalProxies:     stats.NewProxiesStatsSource(cfg.HAProxy.StatsSocket, logger),
		ClusterNodes:     stats.NewClusterNodesSource(clusterCfg),
		ClusterProcesses: stats.NewClusterProcessesSource(clusterCfg),
		ClusterProxies:   stats.NewClusterProxiesSource(lbCfg),
	}

	var manager *profiling.Manager
	sinks := &sinkTracker{}
	if cfg.IsMaster() {
		watcher, err := newConfWatcher(cfg, logger)
		if err != nil {
			return err
		}
		defer errors.DeferClose(logger, watcher, "failed to close config watcher")

		manager = profiling.NewManager(loop, map[profiling.Category]profiling.Source{
			profiling.CategoryNodes:     sources.ClusterNodes,
			profiling.CategoryProcesses: sources.ClusterProcesses,
			profiling.CategoryProxies:   sources.ClusterProxies,
		}, newSinkFactory(cfg.ProfileDir, sinks, logger), logger)

		if err := manager.Watch(watcher); err != nil {
			return err
		}
	}

	srv := server.NewServer(sources, cfg.IsMaster(), cfg.IsLoadBalancer(), logger)
	err = srv.Run(ctx, cfg.ListenAddr)

	if manager != nil {
		manager.Shutdown()
	}
	sinks.closeAll(logger)

	logger.Info().Msg("Daemon stopped")
	return err
}

// newConfWatcher builds the configured config store watcher.
func newConfWatcher(cfg *config.DaemonConfig, logger zerolog.Logger) (confstore.Watcher, error) {
	switch cfg.ConfStore.Backend {
	case "zookeeper":
		return confstore.NewZooKeeperWatcher(cfg.ConfStore.ZooKeeperServers,
			constants.DefaultZooKeeperSessionTimeout, logger)
	case "file":
		return confstore.NewFileWatcher(cfg.ConfStore.ConfDir, logger)
	default:
		return nil, fmt.Errorf("unknown conf_store backend %q", cfg.ConfStore.Backend)
	}
}

// sinkTracker remembers created profile logs so they can be closed on
// shutdown. The factory runs on the run loop; closeAll runs after it has
// stopped scheduling new work.
type sinkTracker struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (t *sinkTracker) add(c io.Closer) {
	t.mu.Lock()
	t.closers = append(t.closers, c)
	t.mu.Unlock()
}

func (t *sinkTracker) closeAll(logger zerolog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.closers {
		errors.DeferClose(logger, c, "failed to close profile log")
	}
	t.closers = nil
}

// newSinkFactory creates profile log sinks rooted at dir.
func newSinkFactory(dir string, tracker *sinkTracker, logger zerolog.Logger) profiling.SinkFactory {
	return func(c profiling.Category) (profiling.Sink, error) {
		var sink interface {
			profiling.Sink
			io.Closer
		}
		switch c {
		case profiling.CategoryNodes:
			sink = profile.NewNodesLog(dir, stats.DefaultIncludeLists, logger)
		case profiling.CategoryProcesses:
			sink = profile.NewProcessesLog(dir, stats.DefaultIncludeLists, logger)
		case profiling.CategoryProxies:
			sink = profile.NewProxiesLog(dir, stats.DefaultIncludeLists, logger)
		default:
			return nil, fmt.Errorf("no profile log for category %q", c)
		}
		tracker.add(sink)
		return sink, nil
	}
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen_addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen_addr port %q: %w", portStr, err)
	}
	return port, nil
}
