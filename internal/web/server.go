// Package web exposes the pipeline over HTTP: trigger submission, run
// inspection, and the approval endpoint used by the approve command.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careops/surveyci/internal/approval"
	"github.com/careops/surveyci/internal/orchestrator"
	"github.com/careops/surveyci/internal/pipeline"
)

// Server wires the HTTP API over the run manager and approval broker.
type Server struct {
	manager  *orchestrator.Manager
	store    *pipeline.Store
	broker   *approval.Broker
	registry *prometheus.Registry
	logger   *slog.Logger

	http *http.Server
}

// Config holds the server's collaborators.
type Config struct {
	Addr     string
	Manager  *orchestrator.Manager
	Store    *pipeline.Store
	Broker   *approval.Broker
	Registry *prometheus.Registry // nil disables /metrics
	Logger   *slog.Logger
}

// NewServer builds the server and its route table.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:  cfg.Manager,
		store:    cfg.Store,
		broker:   cfg.Broker,
		registry: cfg.Registry,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/triggers", s.handleTrigger)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/approval", s.handleApproval)
		r.Get("/approvals", s.handleListApprovals)
	})
	return r
}

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
