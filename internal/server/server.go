// Package server exposes the vault over HTTP: snapshot CRUD, merge and
// restore operations, status, and health. All /api/v1 routes sit behind
// optional bearer-token auth and per-client rate limiting.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"snapvault/internal/config"
	"snapvault/internal/logging"
	"snapvault/internal/metrics"
	"snapvault/internal/vault"
)

// Server is the SnapVault HTTP API server.
type Server struct {
	cfg   config.ServerConfig
	vault *vault.Vault
	reg   *metrics.Registry
	bus   *metrics.Bus
	log   *zap.Logger
	http  *http.Server
}

// New builds a server around an open vault.
func New(cfg config.ServerConfig, v *vault.Vault, reg *metrics.Registry, bus *metrics.Bus) *Server {
	s := &Server{
		cfg:   cfg,
		vault: v,
		reg:   reg,
		bus:   bus,
		log:   logging.For(logging.CategoryServer),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/snapshots", s.handleCreate)
	mux.HandleFunc("GET /api/v1/snapshots", s.handleList)
	mux.HandleFunc("GET /api/v1/snapshots/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/v1/snapshots/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/v1/snapshots/{id}/restore", s.handleRestore)
	mux.HandleFunc("POST /api/v1/snapshots/merge", s.handleMerge)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	handler := s.withRequestLog(s.withRateLimit(s.withAuth(mux)))

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the configured handler chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown failed, closing", zap.Error(err))
		return s.http.Close()
	}
	return nil
}
