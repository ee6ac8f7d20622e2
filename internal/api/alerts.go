package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
)

// cached returns the value stored under key, computing and storing it on a
// miss. Errors are never cached.
func (s *Server) cached(key string, load func() (any, error)) (any, error) {
	if s.cache == nil {
		return load()
	}
	if v, found := s.cache.Get(key); found {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, v)
	return v, nil
}

func alertFilter(c echo.Context) (datastore.AlertFilter, error) {
	f := datastore.AlertFilter{
		Status:   c.QueryParam("status"),
		Severity: c.QueryParam("severity"),
	}
	if v := c.QueryParam("camera_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return f, fmt.Errorf("camera_id %q: %w", v, core.ErrValidationFailed)
		}
		f.CameraID = uint(id)
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit %q: %w", v, core.ErrValidationFailed)
		}
		f.Limit = n
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%s %q: %w", name, v, core.ErrValidationFailed)
		}
		*dst = t
	}
	return f, nil
}

// GET /api/alerts?camera_id=&status=&severity=&since=&until=&limit=
func (s *Server) listAlerts(c echo.Context) error {
	f, err := alertFilter(c)
	if err != nil {
		return fail(c, err)
	}
	v, err := s.cached("alerts?"+c.QueryString(), func() (any, error) {
		return s.d.Records.ListAlerts(c.Request().Context(), f)
	})
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

// GET /api/alerts/count?status=pending
func (s *Server) countAlerts(c echo.Context) error {
	status := c.QueryParam("status")
	v, err := s.cached("count?"+status, func() (any, error) {
		return s.d.Records.CountAlerts(c.Request().Context(), status)
	})
	if err != nil {
		return fail(c, err)
	}
	return ok(c, map[string]any{"status": status, "count": v})
}

func (s *Server) getDetection(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	d, err := s.d.Records.GetDetection(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, d)
}

func (s *Server) listEvents(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	evs, err := s.d.Records.ListEvents(c.Request().Context(), limit)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, evs)
}
