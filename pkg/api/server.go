package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
)

// Version is stamped via ldflags at build time and reported by the
// health endpoint.
var Version = "dev"

// Server is the REST front end. It owns no background work: submits
// only create rows for the scheduler to find, cancels write through the
// store the same way cleanup does, and everything else is a read.
type Server struct {
	store     storage.Store
	registry  *registry.Registry
	resources *resource.Manager
	broker    *events.Broker

	router *mux.Router
	http   *http.Server
}

// NewServer wires the routes. All dependencies are shared with the
// scheduler and workers; the server adds no state of its own.
func NewServer(store storage.Store, reg *registry.Registry, resources *resource.Manager, broker *events.Broker) *Server {
	s := &Server{
		store:     store,
		registry:  reg,
		resources: resources,
		broker:    broker,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestIDMiddleware, loggingMiddleware, recoverMiddleware)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id:[0-9]+}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id:[0-9]+}", s.handleCancelJob).Methods(http.MethodDelete)
	v1.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	r.HandleFunc("/health", s.healthHandler)
	r.HandleFunc("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Logger.Info().Str("addr", addr).Msg("API server listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	log.Logger.Info().Msg("API server stopping")
	return s.http.Shutdown(ctx)
}
