// Package httpapi exposes the daemon's HTTP surface: task intake and
// inspection, the escalation queue, and operational endpoints.
//
// The server is an Echo router with graceful context-aware shutdown.
// All business endpoints live under /api/v1; /health and /metrics are
// unversioned.
package httpapi

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

	"github.com/fernworks/mendd/internal/escalation"
	"github.com/fernworks/mendd/internal/orchestrator"
	"github.com/fernworks/mendd/internal/patterns"
)

// Config configures the HTTP server.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	ServiceName     string
}

// Server is the HTTP API.
type Server struct {
	config *Config
	echo   *echo.Echo
	tasks  orchestrator.Service
	queue  escalation.Service
	logger *zap.Logger
}

// HealthResponse is the JSON body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer creates the HTTP API over the orchestrator and escalation
// services.
func NewServer(cfg *Config, tasks orchestrator.Service, queue escalation.Service, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if tasks == nil {
		return nil, errors.New("orchestrator service is required")
	}
	if queue == nil {
		return nil, errors.New("escalation service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config: cfg,
		echo:   e,
		tasks:  tasks,
		queue:  queue,
		logger: logger,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleSubmitTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.GET("/escalations", s.handleListEscalations)
	v1.GET("/escalations/stats", s.handleEscalationStats)
	v1.GET("/escalations/:taskID", s.handleGetEscalation)
	v1.POST("/escalations/:taskID/resolve", s.handleResolveEscalation)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: s.config.ServiceName,
	})
}

// SubmitTaskRequest is the JSON body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Description string `json:"description"`
	Feature     string `json:"feature"`

	// ComplexityOverride bypasses the estimator when non-nil.
	ComplexityOverride *int `json:"complexity_override,omitempty"`
}

func (s *Server) handleSubmitTask(c echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}
	if req.Feature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feature is required")
	}

	t, err := s.tasks.Submit(c.Request().Context(), orchestrator.SubmitRequest{
		Description: req.Description,
		Feature:     req.Feature,
		Override:    req.ComplexityOverride,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "task queue is full")
		}
		if errors.Is(err, orchestrator.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "daemon is shutting down")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, t)
}

func (s *Server) handleListTasks(c echo.Context) error {
	list, err := s.tasks.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetTask(c echo.Context) error {
	t, err := s.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleListEscalations(c echo.Context) error {
	filter := escalation.Filter{}

	switch c.QueryParam("resolved") {
	case "true":
		v := true
		filter.Resolved = &v
	case "false":
		v := false
		filter.Resolved = &v
	case "":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "resolved must be true or false")
	}
	if c.QueryParam("recompute") == "true" {
		filter.Recompute = true
	}

	entries, err := s.queue.List(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleGetEscalation(c echo.Context) error {
	entry, err := s.queue.Get(c.Request().Context(), c.Param("taskID"))
	if err != nil {
		if errors.Is(err, escalation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

// ResolveRequest is the JSON body for POST /escalations/:taskID/resolve.
type ResolveRequest struct {
	RootCause   string `json:"root_cause"`
	FixStrategy string `json:"fix_strategy"`
	Severity    string `json:"severity,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Patch       string `json:"patch,omitempty"`
}

func (s *Server) handleResolveEscalation(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ann := &patterns.Annotation{
		RootCause:   patterns.RootCause(req.RootCause),
		FixStrategy: patterns.FixStrategy(req.FixStrategy),
		Severity:    req.Severity,
		Notes:       req.Notes,
		Patch:       req.Patch,
	}
	if !ann.RootCause.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid root_cause %q", req.RootCause))
	}
	if !ann.FixStrategy.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid fix_strategy %q", req.FixStrategy))
	}

	entry, err := s.queue.Resolve(c.Request().Context(), c.Param("taskID"), ann)
	if err != nil {
		switch {
		case errors.Is(err, escalation.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, escalation.ErrAlreadyResolved):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) handleEscalationStats(c echo.Context) error {
	stats, err := s.queue.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// Start runs the server and blocks until the context is cancelled,
// then shuts down gracefully. Returns http.ErrServerClosed on a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	s.logger.Info("http api listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying router, for tests and extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
