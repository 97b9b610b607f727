// Package http provides the HTTP API for ctxrouter.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/logging"
	"github.com/fyrsmithlabs/ctxrouter/internal/pipeline"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
)

// Server provides HTTP endpoints for the routing pipeline.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	config   *Config
	metrics  *HTTPMetrics
	limiters *sessionLimiters
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is the sustained requests/second per session; 0 disables limiting.
	RateLimit float64
	RateBurst int
	Version   string
}

// NewServer creates a new HTTP server.
func NewServer(p *pipeline.Pipeline, logger *zap.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger,
		config:   cfg,
		metrics:  NewHTTPMetrics(logger),
	}
	if cfg.RateLimit > 0 {
		s.limiters = newSessionLimiters(cfg.RateLimit, cfg.RateBurst)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))

			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", rid),
			)

			return err
		}
	})
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	if s.limiters != nil {
		v1.Use(s.rateLimit)
	}
	v1.POST("/route", s.handleRoute)
	v1.POST("/compress", s.handleCompress)
	v1.POST("/outcome", s.handleOutcome)
	v1.GET("/effectiveness", s.handleEffectiveness)
	v1.DELETE("/sessions/:id", s.handleEndSession)
}

func (s *Server) handleHealth(c echo.Context) error {
	reg := s.pipeline.Registry()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         s.config.Version,
		RegistryVersion: reg.Version(),
		Providers:       reg.Len(),
	})
}

// handleRoute runs one operation through the pipeline. Unreadable bodies are
// rejected; everything the pipeline sees gets a well-formed response.
func (s *Server) handleRoute(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid route request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.pipeline.Process(c.Request().Context(), req))
}

func (s *Server) handleCompress(c echo.Context) error {
	var req pipeline.CompressRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid compress request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	if req.Pressure < 0 || req.Pressure > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_pressure must be between 0 and 1")
	}
	return c.JSON(http.StatusOK, s.pipeline.Compress(c.Request().Context(), req))
}

func (s *Server) handleOutcome(c echo.Context) error {
	var o pipeline.Outcome
	if err := c.Bind(&o); err != nil {
		s.logger.Warn("invalid outcome", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if o.OperationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "operation_id field is required")
	}

	err := s.pipeline.RecordOutcome(c.Request().Context(), o)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, OutcomeResponse{OperationID: o.OperationID, Status: "recorded"})
	case errors.Is(err, pipeline.ErrUnknownOperation):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrUnknownProvider):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, learning.ErrInvalidEvent):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("recording outcome failed", zap.String("operation_id", o.OperationID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record outcome")
	}
}

// handleEffectiveness reports learned effectiveness for ?fingerprint=, or for
// ?shape=&provider= as the router fingerprints them. session_id, user_id and
// project_id narrow the lineage.
func (s *Server) handleEffectiveness(c echo.Context) error {
	fp := c.QueryParam("fingerprint")
	if fp == "" {
		shape, provider := c.QueryParam("shape"), c.QueryParam("provider")
		if shape == "" || provider == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "fingerprint or shape and provider are required")
		}
		fp = router.Fingerprint(shape, provider)
	}
	lineage := learning.Lineage{
		SessionID: c.QueryParam("session_id"),
		UserID:    c.QueryParam("user_id"),
		ProjectID: c.QueryParam("project_id"),
	}
	return c.JSON(http.StatusOK, EffectivenessResponse{
		Fingerprint:   fp,
		Effectiveness: s.pipeline.Effectiveness(c.Request().Context(), fp, lineage),
	})
}

func (s *Server) handleEndSession(c echo.Context) error {
	s.pipeline.EndSession(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// Handler exposes the router for in-process use and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
