// Package adminhttp serves the runner's liveness and metrics surface: a
// small chi router exposing /healthz and /metrics, run alongside the
// scheduler loop. Nothing in this package is on the critical path of task
// execution — its absence (config.Metrics.Addr empty) simply disables the
// surface.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the runner's admin HTTP surface.
type Server struct {
	httpServer *http.Server
	Metrics    *Metrics
}

// HealthFunc reports the runner's liveness; returning an error marks
// /healthz unhealthy. A nil HealthFunc is always considered healthy.
type HealthFunc func() error

// NewServer builds a Server listening on addr. health, if non-nil, is
// consulted on every /healthz request.
func NewServer(addr string, health HealthFunc) *Server {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		Metrics: metrics,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks until the server is stopped or an error occurs.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
