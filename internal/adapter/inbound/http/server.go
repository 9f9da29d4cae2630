// Package http provides the operational HTTP listener: health checks
// and Prometheus metrics. Session admission itself never goes over
// HTTP; this surface exists for probes and scrapes only.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer serves /health and /metrics.
type OpsServer struct {
	addr    string
	checker *HealthChecker
	reg     *prometheus.Registry
	logger  *slog.Logger

	server *http.Server
}

// NewOpsServer creates the operational listener.
func NewOpsServer(addr string, checker *HealthChecker, reg *prometheus.Registry, logger *slog.Logger) *OpsServer {
	return &OpsServer{
		addr:    addr,
		checker: checker,
		reg:     reg,
		logger:  logger,
	}
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *OpsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/health", s.checker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		Registry: s.reg,
	}))

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting ops server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down ops server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *OpsServer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during ops server shutdown", "error", err)
		return err
	}

	s.logger.Info("ops server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *OpsServer) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
