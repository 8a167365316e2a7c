package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statshive/statshive/internal/profiling"
)

type stubSource struct {
	mu       sync.Mutex
	snapshot profiling.Snapshot
	failures []string
	err      error
	maxAge   time.Duration
}

func (s *stubSource) Fetch(ctx context.Context, maxAge time.Duration) (profiling.Snapshot, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxAge = maxAge
	return s.snapshot, s.failures, s.err
}

func (s *stubSource) lastMaxAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxAge
}

type testServer struct {
	*Server
	node, processes, proxies         *stubSource
	clusterNodes                     *stubSource
	clusterProcesses, clusterProxies *stubSource
}

func newTestServer(isMaster, isLB bool) *testServer {
	ts := &testServer{
		node:             &stubSource{snapshot: map[string]string{"kind": "node"}},
		processes:        &stubSource{snapshot: map[string]string{"kind": "processes"}},
		proxies:          &stubSource{snapshot: map[string]string{"kind": "proxies"}},
		clusterNodes:     &stubSource{snapshot: map[string]string{"kind": "cluster-nodes"}},
		clusterProcesses: &stubSource{snapshot: map[string]string{"kind": "cluster-processes"}},
		clusterProxies:   &stubSource{snapshot: map[string]string{"kind": "cluster-proxies"}},
	}
	ts.Server = NewServer(Sources{
		LocalNode:        ts.node,
		LocalProcesses:   ts.processes,
		LocalProxies:     ts.proxies,
		ClusterNodes:     ts.clusterNodes,
		ClusterProcesses: ts.clusterProcesses,
		ClusterProxies:   ts.clusterProxies,
	}, isMaster, isLB, zerolog.Nop())
	return ts
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLocalStats(t *testing.T) {
	ts := newTestServer(false, false)

	rec := doGet(t, ts.Handler(), "/stats/local/node")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "node", body["kind"])
}

func TestLocalStats_MaxAgeParam(t *testing.T) {
	ts := newTestServer(false, false)

	doGet(t, ts.Handler(), "/stats/local/node")
	assert.Equal(t, 10*time.Second, ts.node.lastMaxAge(), "default staleness bound")

	doGet(t, ts.Handler(), "/stats/local/node?max_age=0")
	assert.Equal(t, time.Duration(0), ts.node.lastMaxAge(), "zero forces fresh collection")

	doGet(t, ts.Handler(), "/stats/local/node?max_age=2.5")
	assert.Equal(t, 2500*time.Millisecond, ts.node.lastMaxAge())

	rec := doGet(t, ts.Handler(), "/stats/local/node?max_age=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, ts.Handler(), "/stats/local/node?max_age=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocalStats_SourceError(t *testing.T) {
	ts := newTestServer(false, false)
	ts.node.err = errors.New("collection failed")

	rec := doGet(t, ts.Handler(), "/stats/local/node")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "collection failed")
}

func TestProxiesRequireLoadBalancerRole(t *testing.T) {
	ts := newTestServer(false, false)
	rec := doGet(t, ts.Handler(), "/stats/local/proxies")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "load balancer")

	ts = newTestServer(false, true)
	rec = doGet(t, ts.Handler(), "/stats/local/proxies")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClusterStatsRequireMasterRole(t *testing.T) {
	ts := newTestServer(false, false)
	for _, path := range []string{"/stats/cluster/nodes", "/stats/cluster/processes", "/stats/cluster/proxies"} {
		rec := doGet(t, ts.Handler(), path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "master")
	}
}

func TestClusterStats_ResponseShape(t *testing.T) {
	ts := newTestServer(true, false)
	ts.clusterNodes.failures = []string{"10.0.0.9"}

	rec := doGet(t, ts.Handler(), "/stats/cluster/nodes")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats    map[string]string `json:"stats"`
		Failures []string          `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cluster-nodes", body.Stats["kind"])
	assert.Equal(t, []string{"10.0.0.9"}, body.Failures)
}

func TestClusterStats_EmptyFailuresIsArray(t *testing.T) {
	ts := newTestServer(true, false)

	rec := doGet(t, ts.Handler(), "/stats/cluster/processes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failures":[]`)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(false, false)

	rec := doGet(t, ts.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, ts.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
