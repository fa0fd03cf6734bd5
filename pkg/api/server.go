// Package api exposes the daemon's health and metrics endpoints over
// HTTP. The PAM request path never touches this server; it exists for
// operators and probes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
)

// ReadinessProbe reports whether the daemon can service requests; the
// daemon wires in a directory reachability check.
type ReadinessProbe func(ctx context.Context) error

// Server serves the health and metrics endpoints.
//
// Endpoints:
//   - GET /health        liveness probe
//   - GET /health/ready  readiness probe
//   - GET /metrics       Prometheus exposition (when metrics enabled)
//
// The server supports graceful shutdown and is safe to stop more than
// once.
type Server struct {
	server       *http.Server
	config       config.HTTPConfig
	shutdownOnce sync.Once
}

// NewServer creates the HTTP server in a stopped state; call Start to
// begin serving. ready may be nil, in which case the readiness probe
// reports ready whenever the process is up.
func NewServer(cfg config.HTTPConfig, ready ReadinessProbe) *Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(ready),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{server: server, config: cfg}
}

// Start serves until ctx is cancelled or the listener fails, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		// A fresh context: the cancelled one would abort the drain.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop shuts the server down, waiting for in-flight requests up to
// ctx's deadline. Safe to call multiple times and concurrently with
// Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown: %w", err)
		} else {
			logger.Info("HTTP server stopped")
		}
	})
	return shutdownErr
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.config.Port
}
