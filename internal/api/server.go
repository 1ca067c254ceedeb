package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/metrics"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/playback"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr           string
	ExportsDir     string
	MaxUploadBytes int64
	CatalogService catalog.CatalogService
	PlaybackServer playback.PlaybackService
	Repository     catalog.Repository
	Runner         *catalog.Runner
	Doctor         *pipelines.CachedDoctor
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	StartTime      time.Time
	DeviceID       string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  0, // uploads can be large
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
