package api

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/sua-org/ppe-watch/internal/core"
)

type cameraRequest struct {
	PhysicalID *int   `json:"physical_id"`
	Name       string `json:"name"`
	Zone       string `json:"zone"`
}

func (s *Server) listCameras(c echo.Context) error {
	cams, err := s.d.Cameras.List(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, cams)
}

func (s *Server) listPhysical(c echo.Context) error {
	return ok(c, s.d.Devices.ListPhysical())
}

func (s *Server) createCamera(c echo.Context) error {
	var req cameraRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("decode camera: %w", core.ErrValidationFailed))
	}
	if req.PhysicalID == nil {
		return fail(c, fmt.Errorf("physical_id is required: %w", core.ErrValidationFailed))
	}
	cam, err := s.d.Cameras.Add(c.Request().Context(), *req.PhysicalID, req.Name, req.Zone)
	if err != nil {
		return fail(c, err)
	}
	return created(c, cam)
}

func (s *Server) updateCamera(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	var req cameraRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("decode camera: %w", core.ErrValidationFailed))
	}
	cam, err := s.d.Cameras.Update(c.Request().Context(), id, req.Name, req.Zone)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, cam)
}

func (s *Server) deleteCamera(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.d.Cameras.Delete(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	return ok(c, map[string]any{"camera_id": id, "deleted": true})
}
