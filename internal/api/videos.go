package api

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/sua-org/ppe-watch/internal/core"
)

// POST /api/videos (multipart, field "file")
func (s *Server) uploadVideo(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, fmt.Errorf("missing file: %w", core.ErrValidationFailed))
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, fmt.Errorf("read upload: %w", core.ErrValidationFailed))
	}
	defer f.Close()

	job, err := s.d.Videos.Upload(fh.Filename, f)
	if err != nil {
		return fail(c, err)
	}
	return created(c, job)
}

func (s *Server) listVideos(c echo.Context) error {
	return ok(c, s.d.Videos.List())
}

func (s *Server) videoStats(c echo.Context) error {
	job, err := s.d.Videos.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, map[string]any{
		"id":     job.ID,
		"status": job.Status,
		"stats":  job.Stats,
	})
}

func (s *Server) deleteVideo(c echo.Context) error {
	id := c.Param("id")
	if err := s.d.Videos.Delete(id); err != nil {
		return fail(c, err)
	}
	return ok(c, map[string]any{"id": id, "deleted": true})
}
