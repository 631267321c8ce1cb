// Package api serves the operational HTTP surface of the worker: liveness,
// readiness of the backing stores and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency whose reachability gates readiness
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	PingTimeout     time.Duration
}

func (c *ServerConfig) withDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 2 * time.Second
	}
}

// Server represents the health and metrics HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       []Pinger
	config     ServerConfig
	logger     *zap.Logger
}

// NewServer creates a server checking deps for readiness
func NewServer(config ServerConfig, logger *zap.Logger, deps ...Pinger) *Server {
	config.withDefaults()
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
		logger: logger.Named("api"),
	}

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chain-indexer",
	})
}

// handleReady pings every dependency and reports each one's state
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.PingTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.deps))
	status := http.StatusOK
	for _, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			s.logger.Warn("dependency not ready", zap.String("dependency", dep.Name()), zap.Error(err))
			checks[dep.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[dep.Name()] = "ok"
	}

	if status != http.StatusOK {
		respondError(w, status, ErrCodeServiceUnavailable, "dependencies not ready", checks)
		return
	}
	respondJSON(w, status, map[string]interface{}{"status": "ready", "checks": checks})
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting health server", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down health server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown health server: %w", err)
	}
	return nil
}
