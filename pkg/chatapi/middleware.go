package chatapi

import (
	"crypto/subtle"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"proxie/pkg/limiter"
)

// HeaderAPIKey carries the chat API key.
const HeaderAPIKey = "X-API-Key"

// requireAPIKey rejects chat calls without the configured key. A missing key
// is 401 and a wrong one 403. No key configured means open access.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.apiKey == "" {
			return next(c)
		}
		got := c.Request().Header.Get(HeaderAPIKey)
		if got == "" {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: "missing API key"}) //nolint:wrapcheck // echo response
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			s.logger.Warn("🔒 rejected chat call with a wrong API key from %s", c.RealIP())
			return c.JSON(http.StatusForbidden, errorBody{Error: "invalid API key"}) //nolint:wrapcheck // echo response
		}
		return next(c)
	}
}

// clientKey identifies the caller for rate limiting.
func clientKey(c echo.Context) string {
	if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
		return "key:" + key
	}
	return "ip:" + c.RealIP()
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.limit == nil {
			return next(c)
		}
		client := clientKey(c)
		if err := s.limit.Allow(client); err != nil {
			if errors.Is(err, limiter.ErrRateLimit) {
				wait := int(math.Ceil(s.limit.RetryAfter(client).Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(wait))
			}
			return c.JSON(http.StatusTooManyRequests, errorBody{Error: "Too many messages. Please wait a moment and try again."}) //nolint:wrapcheck // echo response
		}
		return next(c)
	}
}
