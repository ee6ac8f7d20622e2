// Package api is the HTTP surface: MJPEG streams, camera and video-job
// management, alert queries and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
	"github.com/sua-org/ppe-watch/internal/stream"
	"github.com/sua-org/ppe-watch/internal/supervisor"
)

type CameraRegistry interface {
	List(ctx context.Context) ([]core.LogicalCamera, error)
	Get(ctx context.Context, id uint) (core.LogicalCamera, error)
	Add(ctx context.Context, physicalID int, name, zone string) (core.LogicalCamera, error)
	Update(ctx context.Context, id uint, name, zone string) (core.LogicalCamera, error)
	Delete(ctx context.Context, id uint) error
}

type DeviceLister interface {
	ListPhysical() []capture.PhysicalCamera
}

type Streams interface {
	StartStream(ctx context.Context, cameraID uint, detect bool) (*stream.Stream, error)
	StopStream(ctx context.Context, cameraID uint)
	CameraStatus(ctx context.Context, cameraID uint) (supervisor.Status, error)
}

type VideoJobs interface {
	Upload(filename string, r io.Reader) (core.VideoJob, error)
	Process(id string, detect bool) (*stream.Stream, error)
	Get(id string) (core.VideoJob, error)
	Stats(id string) (core.JobStats, error)
	List() []core.VideoJob
	Delete(id string) error
}

// Records is the read side of the datastore.
type Records interface {
	ListAlerts(ctx context.Context, f datastore.AlertFilter) ([]datastore.AlertView, error)
	CountAlerts(ctx context.Context, status string) (int64, error)
	GetDetection(ctx context.Context, id uint) (datastore.Detection, error)
	ListEvents(ctx context.Context, limit int) ([]datastore.SystemEvent, error)
}

type Deps struct {
	Cameras CameraRegistry
	Devices DeviceLister
	Streams Streams
	Videos  VideoJobs
	Records Records
	// Gatherer backs GET /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	// SnapshotDir is served under /static/snapshots when set.
	SnapshotDir string
	MaxUploadMB int
	// CacheTTL bounds how stale alert queries may be. Zero disables caching.
	CacheTTL time.Duration
}

type Server struct {
	e     *echo.Echo
	d     Deps
	cache *cache.Cache

	// streams is cancelled by Shutdown; every MJPEG response ends with it.
	streams     context.Context
	stopStreams context.CancelFunc
}

func New(d Deps) *Server {
	if d.MaxUploadMB <= 0 {
		d.MaxUploadMB = 500
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{e: e, d: d}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	if d.CacheTTL > 0 {
		s.cache = cache.New(d.CacheTTL, time.Minute)
	}
	e.HTTPErrorHandler = s.handleHTTPError
	e.Use(middleware.Recover())
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.e
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.d.SnapshotDir != "" {
		e.Static("/static/snapshots", s.d.SnapshotDir)
	}

	g := e.Group("/api")
	g.GET("/stream/:id", s.streamCamera)
	g.POST("/camera/release/:id", s.releaseCamera)
	g.GET("/camera/status/:id", s.cameraStatus)

	g.GET("/cameras", s.listCameras)
	g.POST("/cameras", s.createCamera)
	g.GET("/cameras/physical", s.listPhysical)
	g.PUT("/cameras/:id", s.updateCamera)
	g.DELETE("/cameras/:id", s.deleteCamera)

	g.POST("/videos", s.uploadVideo, middleware.BodyLimit(fmt.Sprintf("%dM", s.d.MaxUploadMB)))
	g.GET("/videos", s.listVideos)
	g.GET("/videos/:id/stats", s.videoStats)
	g.GET("/videos/:id/stream", s.streamVideo)
	g.DELETE("/videos/:id", s.deleteVideo)

	g.GET("/alerts", s.listAlerts)
	g.GET("/alerts/count", s.countAlerts)
	g.GET("/detections/:id", s.getDetection)
	g.GET("/events", s.listEvents)
}

// ServeHTTP lets the server be mounted or driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Start blocks serving addr until Shutdown.
func (s *Server) Start(addr string) error {
	log.Printf("[api] listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends the open MJPEG responses, then waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopStreams()
	if s.cache != nil {
		s.cache.Flush()
	}
	return s.e.Shutdown(ctx)
}
