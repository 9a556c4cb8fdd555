// Package chatapi exposes the orchestrator over HTTP and WebSocket.
package chatapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxie/pkg/limiter"
	"proxie/pkg/logx"
	"proxie/pkg/orchestrator"
	"proxie/pkg/tasks"
)

// Turner runs one chat turn.
type Turner interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// HealthChecker is a dependency probed by GET /health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options configure a Server. Tasks, Limiter and Gatherer may be nil: async
// requests then run inline, no rate limit applies and /metrics serves the
// default registry.
type Options struct {
	Turns    Turner
	Tasks    *tasks.Queue
	Limiter  *limiter.Limiter
	Health   map[string]HealthChecker
	Gatherer prometheus.Gatherer
	APIKey   string
}

// Server is the chat HTTP server.
type Server struct {
	echo   *echo.Echo
	turns  Turner
	tasks  *tasks.Queue
	limit  *limiter.Limiter
	health map[string]HealthChecker
	logger *logx.Logger
	apiKey string
}

// New builds the server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Turns == nil {
		return nil, errors.New("chat server requires a turn handler")
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		turns:  opts.Turns,
		tasks:  opts.Tasks,
		limit:  opts.Limiter,
		health: opts.Health,
		logger: logx.NewLogger("chatapi"),
		apiKey: opts.APIKey,
	}

	e.Use(middleware.Recover())
	e.Use(s.requestLog)

	chat := e.Group("/chat", s.requireAPIKey, s.rateLimit)
	chat.POST("", s.handleChat)
	chat.POST("/", s.handleChat)
	chat.GET("/task/:task_id", s.handleTask)
	chat.GET("/ws", s.handleWebSocket)

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/debug/logs", s.handleLogs)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("🌐 Chat API listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("chat server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx) //nolint:wrapcheck // passthrough
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("%s %s -> %d in %.3gs", c.Request().Method, c.Request().URL.Path,
			c.Response().Status, time.Since(start).Seconds())
		return nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	checks := make(map[string]string, len(s.health))
	status, code := "healthy", http.StatusOK
	for name, hc := range s.health {
		if err := hc.Health(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(code, map[string]any{"status": status, "checks": checks}) //nolint:wrapcheck // echo response
}

func (s *Server) handleLogs(c echo.Context) error {
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "since must be RFC3339"}) //nolint:wrapcheck // echo response
		}
		since = t
	}
	entries := logx.GetRecentLogEntries(c.QueryParam("component"), since)
	return c.JSON(http.StatusOK, map[string]any{"entries": entries}) //nolint:wrapcheck // echo response
}
