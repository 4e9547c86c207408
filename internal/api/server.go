// Package api exposes the workflow engine over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/procflow/procflow/internal/api/handlers"
	"github.com/procflow/procflow/internal/platform/config"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/platform/metrics"
	"github.com/procflow/procflow/internal/runtime"
)

// Server is the HTTP front of the workflow service.
type Server struct {
	cfg        config.Config
	log        logger.Logger
	manager    *runtime.Manager
	metrics    *metrics.Metrics
	hub        *handlers.Hub
	httpServer *http.Server
}

// New creates a server with its routes wired. The hub is started by Run.
func New(cfg config.Config, log logger.Logger, manager *runtime.Manager, m *metrics.Metrics, hub *handlers.Hub) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		manager: manager,
		metrics: m,
		hub:     hub,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      s.router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return s
}

// Handler exposes the routed handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) router() http.Handler {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware(s.log))
	router.Use(corsMiddleware)
	router.Use(logger.HTTPMiddleware(s.log))
	if s.metrics != nil {
		router.Use(s.metrics.HTTPMiddleware)
	}

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	router.Handle("/ws", handlers.NewWSHandler(s.hub, s.log)).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handlers.NewDefinitionHandler(s.manager, s.log).RegisterRoutes(apiRouter)
	handlers.NewExecutionHandler(s.manager, s.log).RegisterRoutes(apiRouter)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","service":%q,"version":%q}`, s.cfg.Service.Name, s.cfg.Version)
}

// Run starts the hub and serves HTTP until the listener fails or Shutdown
// is called.
func (s *Server) Run() error {
	go s.hub.Run()

	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Stop()
	return err
}
