package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dronehq/chunkup/internal/version"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config *Config
	server *http.Server
	svc    *Services
}

func New(ctx context.Context, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	svc, err := OpenServices(ctx, config)
	if err != nil {
		return nil, err
	}

	handler, err := SetupRoutes(config, svc)
	if err != nil {
		svc.Shutdown(ctx)
		return nil, err
	}

	return &Server{
		config: config,
		svc:    svc,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Start serves until ctx is cancelled or the listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("server start", "version", version.Short(), "db", s.config.DB.Driver,
		"tempDir", s.config.Storage.TempDir, "finalDir", s.config.Storage.FinalDir, "auth", s.svc.Auth.IsEnabled())
	defer slog.Info("server stop")

	serveErr := make(chan error, 1)
	go func() {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server error", "error", err)
			s.svc.Shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
		slog.Info("server shutdown signal")
	}

	if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
		slog.Error("server shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.svc.Shutdown(shutdownCtx)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
