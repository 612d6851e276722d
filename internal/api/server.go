// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires the operational HTTP endpoints into a runnable [http.Server].

Architecture:

  - The pipeline has no domain-facing API: the endpoints here exist for
    orchestration probes and operators. The only mutation is muting a work.
  - Only this package and cmd/pipeline import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/machiyomi/internal/platform/config"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// Handlers groups the operational handler sets.
type Handlers struct {
	// Liveness is the /health handler — always returns 200 if process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler — returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Ops serves the audit summary and source-health endpoints.
	Ops *OpsHandler
}

// # Server Initialization

// NewServer constructs the chi router and registers the operational routes.
func NewServer(cfg *config.Config, log *slog.Logger, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated health probes for container orchestration.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)

	// # Operational Endpoints
	r.Route("/ops", func(ops chi.Router) {
		ops.Get("/summary", h.Ops.Summary)
		ops.Get("/failures", h.Ops.Failures)
		ops.Get("/sources", h.Ops.Sources)
		ops.Get("/releases/{id}", h.Ops.Release)
		ops.Get("/releases/{id}/sightings", h.Ops.Sightings)
		ops.Get("/works/{id}", h.Ops.Work)
		ops.Delete("/works/{id}", h.Ops.MuteWork)
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("ops server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
