// Package probe serves the health, metrics and status endpoints of a
// running boot.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/app"
	"github.com/marmos91/dittoboot/pkg/config"
)

// StatusSource reports the state the probe exposes.
type StatusSource interface {
	Status() app.Status
}

// Server provides the probe HTTP server.
//
// Endpoints:
//   - GET /health/live: Liveness probe
//   - GET /health/ready: Readiness probe (every early module finished, kernel running)
//   - GET /metrics: Prometheus metrics (404 when metrics are disabled)
//   - GET /status: Application status as JSON
type Server struct {
	server       *http.Server
	config       config.ProbeConfig
	port         atomic.Int32
	shutdownOnce sync.Once
}

var _ app.AuxiliaryServer = (*Server)(nil)

// NewServer creates a probe server in a stopped state. Port 0 picks a free
// port when the server starts.
func NewServer(cfg config.ProbeConfig, src StatusSource) *Server {
	s := &Server{
		server: &http.Server{
			Handler:      NewRouter(src, cfg.GoroutineThreshold),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		config: cfg,
	}
	s.port.Store(int32(cfg.Port))
	return s
}

// Start serves until ctx is cancelled or Stop is called.
//
// Returns nil on graceful shutdown, or the error that made the listener fail.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("probe server listen: %w", err)
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(addr.Port))
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Probe server listening", "port", s.Port())
		logger.Debug("Probe endpoints available",
			"live", fmt.Sprintf("http://localhost:%d/health/live", s.Port()),
			"ready", fmt.Sprintf("http://localhost:%d/health/ready", s.Port()),
			"metrics", fmt.Sprintf("http://localhost:%d/metrics", s.Port()),
			"status", fmt.Sprintf("http://localhost:%d/status", s.Port()),
		)

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		logger.Debug("Probe server shutdown signal received")
		// The cancelled ctx would abort the shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("probe server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. It is safe to call more than once
// and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("probe server shutdown error: %w", err)
			logger.Error("Probe server shutdown error", logger.Err(err))
			return
		}
		logger.Debug("Probe server stopped")
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return int(s.port.Load())
}
