// Package server exposes the client library over HTTP for drfetch serve:
// aggregated list reads, single reads and cache invalidation against the
// configured backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/Sternrassler/drf-client/pkg/api"
)

// Config holds server settings.
type Config struct {
	// Port to listen on.
	Port int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Server wires the HTTP routes to an api.Client.
type Server struct {
	config    Config
	echo      *echo.Echo
	readiness *atomic.Bool
	registry  *prometheus.Registry
	logger    zerolog.Logger
}

// New creates a server over client. Routes are registered immediately so
// Handler can be used in tests without Run.
func New(client *api.Client, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	logger := log.With().Str("component", "drfetch-server").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config:    cfg,
		echo:      e,
		readiness: atomic.NewBool(false),
		registry:  prometheus.NewRegistry(),
		logger:    logger,
	}

	s.setupMiddleware()

	h := &proxyHandler{client: client, logger: logger}
	e.GET("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, s.registry},
	}))
	e.GET("/stats", handleStats)
	e.GET("/pages/*", h.handlePages)
	e.GET("/one/*", h.handleOne)
	e.POST("/invalidate/*", h.handleInvalidate)

	return s
}

func (s *Server) setupMiddleware() {
	e := s.echo

	e.Use(middleware.Recover())

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request served")
			return nil
		},
	}))

	// Health and metrics stay reachable while draining.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !s.readiness.Load() {
				switch c.Request().URL.Path {
				case "/health", "/ready", "/metrics":
				default:
					return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "server not ready"})
				}
			}
			return next(c)
		}
	})

	// HTTP server metrics live in a per-server registry; library metrics
	// stay on the default one.
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "drfetch",
		Registerer: s.registry,
	}))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Ready reports whether the server accepts proxied requests.
func (s *Server) Ready() bool {
	return s.readiness.Load()
}

// SetReady sets the readiness flag.
func (s *Server) SetReady(ready bool) {
	s.readiness.Store(ready)
}

// Run serves until ctx is cancelled, then drains and shuts down.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting server")
		s.readiness.Store(true)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.readiness.Store(false)
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.readiness.Store(false)
	s.logger.Info().Dur("timeout", s.config.ShutdownTimeout).Msg("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(c echo.Context) error {
	if s.readiness.Load() {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "draining"})
}
