package api

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/stream"
)

// GET /api/stream/:id?detect=true
func (s *Server) streamCamera(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	st, err := s.d.Streams.StartStream(c.Request().Context(), id, queryBool(c, "detect", false))
	if err != nil {
		return fail(c, err)
	}
	s.writeStream(c, st)
	return nil
}

// GET /api/videos/:id/stream?detect=false
func (s *Server) streamVideo(c echo.Context) error {
	st, err := s.d.Videos.Process(c.Param("id"), queryBool(c, "detect", true))
	if err != nil {
		return fail(c, err)
	}
	s.writeStream(c, st)
	return nil
}

// writeStream emits st as multipart MJPEG until it ends, the client leaves or
// the server shuts down. http.Server.Shutdown does not cancel request
// contexts, so the server's own stream context is merged in.
func (s *Server) writeStream(c echo.Context, st *stream.Stream) {
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, stream.ContentType)
	res.Header().Set("Cache-Control", "no-cache, no-store")
	res.WriteHeader(http.StatusOK)

	if err := stream.WriteMJPEG(ctx, res, res.Flush, st); err != nil {
		log.Printf("[api] %s: stream ended: %v", c.Request().URL.Path, err)
	}
}

func (s *Server) releaseCamera(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	s.d.Streams.StopStream(c.Request().Context(), id)
	return ok(c, map[string]any{"camera_id": id, "released": true})
}

type cameraStatusResponse struct {
	CameraID uint                    `json:"camera_id"`
	Status   capture.ConnectionState `json:"status"`
	Message  string                  `json:"message"`
	Health   *capture.HandleHealth   `json:"health,omitempty"`
}

func (s *Server) cameraStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	st, err := s.d.Streams.CameraStatus(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	resp := cameraStatusResponse{CameraID: st.CameraID, Status: st.State, Health: st.Health}
	switch st.State {
	case capture.ConnectionStateOnline:
		resp.Message = "camera delivering frames"
	case capture.ConnectionStateError:
		resp.Message = "frame read failed: " + st.Error
	default:
		resp.Message = "camera unavailable"
	}
	return ok(c, resp)
}
