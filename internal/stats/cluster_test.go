package stats

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// startStatsNode serves canned local node stats on 127.0.0.1 and returns
// its IP and port.
func startStatsNode(t *testing.T, snap NodeStats) (string, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/stats/local/node", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestClusterSource_AssemblesPerNodeSnapshots(t *testing.T) {
	snap := NodeStats{
		UTCTimestamp: 1700000000,
		PrivateIP:    "10.0.0.1",
		CPU:          NodeCPU{Percent: 42.5, Count: 8},
		Memory:       NodeMemory{Available: 1 << 30, Total: 4 << 30},
	}
	ip, port := startStatsNode(t, snap)

	source := NewClusterNodesSource(ClusterSourceConfig{
		Nodes:  []string{ip},
		Port:   port,
		Logger: zerolog.Nop(),
	})

	got, failures, err := source.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, failures)

	cluster, ok := got.(ClusterNodes)
	require.True(t, ok, "snapshot should be a ClusterNodes map, got %T", got)
	require.Equal(t, snap, cluster[ip])
}

func TestClusterSource_ReportsFailedNodes(t *testing.T) {
	snap := NodeStats{PrivateIP: "10.0.0.1", CPU: NodeCPU{Count: 4}}
	ip, port := startStatsNode(t, snap)

	// 127.0.0.2 with the same port refuses connections in the test env;
	// either way it is not the node that answered.
	source := NewClusterNodesSource(ClusterSourceConfig{
		Nodes:  []string{ip, "127.1.2.3"},
		Port:   port,
		Client: &http.Client{Timeout: 500 * time.Millisecond},
		Logger: zerolog.Nop(),
	})

	got, failures, err := source.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"127.1.2.3"}, failures)

	cluster := got.(ClusterNodes)
	require.Len(t, cluster, 1)
	require.Contains(t, cluster, ip)
}

func TestClusterSource_AllNodesFailedIsError(t *testing.T) {
	source := NewClusterNodesSource(ClusterSourceConfig{
		Nodes:  []string{"127.1.2.3"},
		Port:   1,
		Client: &http.Client{Timeout: 200 * time.Millisecond},
		Logger: zerolog.Nop(),
	})

	snap, failures, err := source.Fetch(context.Background(), 0)
	require.Error(t, err)
	require.Nil(t, snap)
	require.Equal(t, []string{"127.1.2.3"}, failures)
}

func TestClusterSource_CacheHonorsMaxAge(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/stats/local/node", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(NodeStats{UTCTimestamp: int64(calls)})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	source := NewClusterNodesSource(ClusterSourceConfig{
		Nodes:  []string{host},
		Port:   port,
		Logger: zerolog.Nop(),
	})

	_, _, err = source.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// Within the staleness bound: served from cache.
	_, _, err = source.Fetch(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// maxAge of zero forces a fresh collection.
	_, _, err = source.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
