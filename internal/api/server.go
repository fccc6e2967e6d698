package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/api/handlers"
	"github.com/benjamincozon/shoplens/internal/config"
	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/pipeline"
)

type Server struct {
	echo   *echo.Echo
	config *config.Config
}

func NewServer(cfg *config.Config, p *pipeline.Pipeline, store learn.Store, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
	}))

	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	s := &Server{
		echo:   e,
		config: cfg,
	}
	s.setupRoutes(handlers.NewHandlers(p, store, cfg.Server.AllowedHosts, log))
	return s
}

func (s *Server) setupRoutes(h *handlers.Handlers) {
	s.echo.GET("/health", h.Health)

	// Analysis jobs
	s.echo.POST("/analyze", h.Analyze)
	s.echo.GET("/analyze/:id", h.GetJob)
	s.echo.GET("/analyze/:id/download", h.DownloadReport)

	// Pipeline monitoring
	s.echo.GET("/monitor/success-rates", h.SuccessRates)
	s.echo.GET("/monitor/stages/:stage", h.StageDetails)

	// Extraction feedback
	s.echo.POST("/reports", h.CreateReport)
	s.echo.POST("/reports/:id/resolve", h.ResolveReport)
}

func (s *Server) Start(ctx context.Context) error {
	return s.echo.Start(":" + s.config.Server.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
