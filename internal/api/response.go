package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sua-org/ppe-watch/internal/core"
)

// envelope wraps every non-streaming response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotConfigured):
		return http.StatusNotFound, "not_configured"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrValidationFailed):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, core.ErrOpenFailed):
		return http.StatusServiceUnavailable, "open_failed"
	case errors.Is(err, core.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func fail(c echo.Context, err error) error {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, envelope{Error: err.Error(), Code: code})
}

// handleHTTPError renders echo's own errors (404 route, 413 body limit) in
// the same envelope.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = fail(c, err)
		return
	}
	msg := http.StatusText(he.Code)
	if m, isStr := he.Message.(string); isStr {
		msg = m
	}
	_ = c.JSON(he.Code, envelope{Error: msg, Code: "http_" + strconv.Itoa(he.Code)})
}

func pathID(c echo.Context) (uint, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q: %w", raw, core.ErrValidationFailed)
	}
	return uint(id), nil
}

func queryBool(c echo.Context, name string, def bool) bool {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
