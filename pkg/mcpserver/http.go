package mcpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"proxie/pkg/tools"
)

// Headers read by the HTTP transport.
const (
	HeaderSessionID  = "Mcp-Session-Id"
	HeaderConsumerID = "X-Consumer-ID"
)

const maxBodyBytes = 1 << 20

// HTTPServer serves MCP over HTTP: POST /mcp carries one JSON-RPC message
// and the reply comes back in the response body.
type HTTPServer struct {
	mcp    *Server
	echo   *echo.Echo
	apiKey string
}

// NewHTTPServer wraps s. A non-empty apiKey must be sent as a bearer token.
func NewHTTPServer(s *Server, apiKey string) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := &HTTPServer{mcp: s, echo: e, apiKey: apiKey}

	e.Use(middleware.Recover())
	g := e.Group("/mcp", h.requireBearer)
	g.POST("", h.handleMessage)
	g.DELETE("", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	return h
}

// Handler returns the HTTP handler.
func (h *HTTPServer) Handler() http.Handler { return h.echo }

// Start serves on addr until Shutdown.
func (h *HTTPServer) Start(addr string) error {
	h.mcp.logger.Info("🔌 MCP server listening on %s with tools: %s", addr, strings.Join(h.mcp.tools, ", "))
	if err := h.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.echo.Shutdown(ctx) //nolint:wrapcheck // passthrough
}

// requireBearer answers 401 for a missing or non-bearer Authorization
// header and 403 for a wrong key.
func (h *HTTPServer) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.apiKey == "" {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing authentication"}) //nolint:wrapcheck // echo response
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid authentication type"}) //nolint:wrapcheck // echo response
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.apiKey)) != 1 {
			h.mcp.logger.Warn("🔒 rejected MCP call with a wrong API key from %s", c.RealIP())
			return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid API key"}) //nolint:wrapcheck // echo response
		}
		return next(c)
	}
}

func (h *HTTPServer) handleMessage(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, failure(nil, CodeParseError, "Parse error", err.Error())) //nolint:wrapcheck // echo response
	}

	sessionID := c.Request().Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	env := tools.Env{
		SessionID:  sessionID,
		ConsumerID: c.Request().Header.Get(HeaderConsumerID),
	}

	resp := h.mcp.HandleMessage(c.Request().Context(), env, body)
	c.Response().Header().Set(HeaderSessionID, sessionID)
	if resp == nil {
		return c.NoContent(http.StatusAccepted) //nolint:wrapcheck // echo response
	}
	return c.JSON(http.StatusOK, resp) //nolint:wrapcheck // echo response
}
