package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/statshive/statshive/internal/constants"
	"github.com/statshive/statshive/internal/profiling"
)

// clusterStatsResponse is the cluster endpoint payload: per-node stats
// keyed by private IP, plus the nodes that failed to report.
type clusterStatsResponse struct {
	Stats    profiling.Snapshot `json:"stats"`
	Failures []string           `json:"failures"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireRole serves next only when the node has the role; otherwise the
// route does not exist on this node.
func (s *Server) requireRole(hasRole bool, reason string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hasRole {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: reason})
			return
		}
		next(w, r)
	}
}

// handleLocal serves this node's own stats from a local source.
func (s *Server) handleLocal(source profiling.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxAge, ok := s.maxAgeParam(w, r)
		if !ok {
			return
		}

		snapshot, _, err := source.Fetch(r.Context(), maxAge)
		if err != nil {
			s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Local stats collection failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// handleCluster serves cluster-wide stats; nodes that failed to report
// are listed instead of failing the whole request.
func (s *Server) handleCluster(source profiling.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxAge, ok := s.maxAgeParam(w, r)
		if !ok {
			return
		}

		snapshot, failures, err := source.Fetch(r.Context(), maxAge)
		if err != nil {
			s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Cluster stats collection failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		if failures == nil {
			failures = []string{}
		}
		writeJSON(w, http.StatusOK, clusterStatsResponse{Stats: snapshot, Failures: failures})
	}
}

// maxAgeParam parses the max_age query parameter (seconds). Zero forces
// a fresh collection; absence means the default staleness bound.
func (s *Server) maxAgeParam(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("max_age")
	if raw == "" {
		return constants.DefaultCurrentStatsMaxAge, true
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "max_age must be a non-negative number of seconds"})
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors past this point cannot be reported to the client.
	_ = json.NewEncoder(w).Encode(v)
}
