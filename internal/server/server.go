// Package server provides the stats HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/metrics"
	"github.com/statshive/statshive/internal/profiling"
)

// Sources holds the stats sources the API serves from. Cluster sources
// may be nil on non-master nodes.
type Sources struct {
	LocalNode      profiling.Source
	LocalProcesses profiling.Source
	LocalProxies   profiling.Source

	ClusterNodes     profiling.Source
	ClusterProcesses profiling.Source
	ClusterProxies   profiling.Source
}

// Server exposes local and cluster stats over HTTP.
type Server struct {
	router         chi.Router
	sources        Sources
	isMaster       bool
	isLoadBalancer bool
	logger         zerolog.Logger
}

// NewServer creates the stats API server. Cluster routes are only served
// when isMaster is set; the local proxies route only when isLoadBalancer
// is set.
func NewServer(sources Sources, isMaster, isLoadBalancer bool, logger zerolog.Logger) *Server {
	s := &Server{
		sources:        sources,
		isMaster:       isMaster,
		isLoadBalancer: isLoadBalancer,
		logger:         logger.With().Str("component", "stats_api").Logger(),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/stats", func(r chi.Router) {
		r.Route("/local", func(r chi.Router) {
			r.Get("/node", s.handleLocal(s.sources.LocalNode))
			r.Get("/processes", s.handleLocal(s.sources.LocalProcesses))
			r.Get("/proxies", s.requireRole(s.isLoadBalancer, "proxy stats are only served on load balancer nodes",
				s.handleLocal(s.sources.LocalProxies)))
		})
		r.Route("/cluster", func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return s.requireRole(s.isMaster, "cluster stats are only served on the master node", next.ServeHTTP)
			})
			r.Get("/nodes", s.handleCluster(s.sources.ClusterNodes))
			r.Get("/processes", s.handleCluster(s.sources.ClusterProcesses))
			r.Get("/proxies", s.handleCluster(s.sources.ClusterProxies))
		})
	})

	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Stats API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}
