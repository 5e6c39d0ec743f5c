// Package http provides the HTTP API for penny.
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

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// Engine is the task API the server exposes. *engine.Engine implements it.
type Engine interface {
	Start(ctx context.Context, workflowID, taskID string, metadata map[string]string) (*engine.Outcome, error)
	Resume(ctx context.Context, taskID string) (*engine.Outcome, error)
	Answer(ctx context.Context, taskID string, answers map[string]string) (*engine.Outcome, error)
	Abort(ctx context.Context, taskID, reason string) (*engine.Outcome, error)
	Status(ctx context.Context, taskID string) (*engine.Outcome, error)
	List(ctx context.Context) ([]*taskstate.TaskInstance, error)
	Workflows() []string
}

// Server provides HTTP endpoints for penny.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	logger  *zap.Logger
	config  *Config
	version string
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		engine:  eng,
		logger:  logger,
		config:  cfg,
		version: cfg.Version,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/workflows", s.handleWorkflows)
	v1.GET("/tasks", s.handleListTasks)
	v1.POST("/tasks", s.handleStart)
	v1.GET("/tasks/:id", s.handleStatus)
	v1.POST("/tasks/:id/answers", s.handleAnswer)
	v1.POST("/tasks/:id/abort", s.handleAbort)
	v1.POST("/tasks/:id/resume", s.handleResume)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, WorkflowsResponse{Workflows: s.engine.Workflows()})
}

func (s *Server) handleListTasks(c echo.Context) error {
	tasks, err := s.engine.List(c.Request().Context())
	if err != nil {
		return err
	}
	resp := TaskListResponse{Tasks: make([]TaskSummary, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, summarize(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id field is required")
	}

	out, err := s.engine.Start(c.Request().Context(), req.WorkflowID, req.TaskID, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) handleStatus(c echo.Context) error {
	out, err := s.engine.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid answer request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Answers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "answers field is required")
	}

	out, err := s.engine.Answer(c.Request().Context(), c.Param("id"), req.Answers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAbort(c echo.Context) error {
	var req AbortRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	out, err := s.engine.Abort(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if out.AbortPending {
		status = http.StatusAccepted
	}
	return c.JSON(status, out)
}

func (s *Server) handleResume(c echo.Context) error {
	out, err := s.engine.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// StatusCode maps engine errors to HTTP status codes.
func StatusCode(err error) int {
	var cfgErr *phasegraph.ConfigurationError
	switch {
	case errors.Is(err, taskstate.ErrNotFound), errors.Is(err, phasegraph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrTaskBusy), errors.Is(err, taskstate.ErrVersionConflict),
		errors.Is(err, engine.ErrNotWaiting), errors.Is(err, engine.ErrCompleted),
		errors.Is(err, engine.ErrAborted), errors.Is(err, engine.ErrWorkflowMismatch):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAnswer), errors.Is(err, taskstate.ErrInvalidTaskID):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		if c.Response().Committed {
			return
		}
		code := StatusCode(err)
		if code >= http.StatusInternalServerError {
			c.Logger().Error(err)
		}
		_ = c.JSON(code, ErrorResponse{Error: err.Error()})
	}
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
