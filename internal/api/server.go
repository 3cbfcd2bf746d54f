// Package api exposes the agent's local HTTP surface: the clip library,
// timeline and session lifecycle, transport and edit commands, the render
// view-model, media byte-range streaming, and the per-session WebSocket.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/frameloop/frameloop-agent/internal/config"
	"github.com/frameloop/frameloop-agent/internal/library"
	"github.com/frameloop/frameloop-agent/internal/media"
	"github.com/frameloop/frameloop-agent/internal/session"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Config     config.Config
	Library    *library.Service
	Repository library.Repository
	Sessions   *session.Manager
	Media      media.Service
	Hub        *Hub
	Logger     *slog.Logger
	StartTime  time.Time
	DeviceID   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Config.Port()),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
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
