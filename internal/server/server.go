package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sketchroom/internal/config"
	"sketchroom/internal/session"
	"sketchroom/internal/ws"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	registry  *session.Registry
	hub       *ws.Hub
	clock     clockwork.Clock
	limiter   *GlobalConnectionLimiter
	ipLimiter *IPConnectionLimiter
	startTime time.Time
}

func NewServer(cfg *config.Config, registry *session.Registry, hub *ws.Hub, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		registry:  registry,
		hub:       hub,
		clock:     clock,
		limiter:   NewGlobalConnectionLimiter(cfg.MaxConnections),
		ipLimiter: NewIPConnectionLimiter(cfg.MaxConnectionsPerIP),
		startTime: clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
