// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sua-org/ppe-watch/internal/alerts"
	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
	"github.com/sua-org/ppe-watch/internal/metrics"
	"github.com/sua-org/ppe-watch/internal/stream"
)

// Cameras is the configured-camera registry.
type Cameras interface {
	Get(ctx context.Context, id uint) (core.LogicalCamera, error)
	SetStatus(ctx context.Context, id uint, status core.CameraStatus) error
}

type Events interface {
	RecordEvent(ctx context.Context, ev datastore.SystemEvent) error
}

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Config struct {
	Quality int
	// StatusInterval <= 0 disables the status loop.
	StatusInterval time.Duration
	BaseTopic      string
}

// Deps groups the collaborators of a Supervisor. Coordinator, Events and
// Publisher may be nil.
type Deps struct {
	Cameras     Cameras
	Manager     *capture.Manager
	Engines     stream.EngineProvider
	Encoder     stream.Encoder
	Coordinator *alerts.Coordinator
	Events      Events
	Publisher   Publisher
	Metrics     *metrics.PipelineMetrics
}

// Supervisor starts live camera streams and reports camera health.
type Supervisor struct {
	d   Deps
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	active map[uint]int

	hostname string
	proc     *process.Process // processo atual, para CPU/memória no status
}

func New(d Deps, cfg Config) *Supervisor {
	if cfg.Quality <= 0 {
		cfg.Quality = stream.DefaultQuality
	}
	s := &Supervisor{
		d:      d,
		cfg:    cfg,
		now:    time.Now,
		active: make(map[uint]int),
	}
	s.hostname, _ = os.Hostname()
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// StartStream opens (or reuses) the camera's device and returns a stream of
// its frames. Sampled non-compliant frames go to the alert coordinator when
// detect is set.
func (s *Supervisor) StartStream(ctx context.Context, cameraID uint, detect bool) (*stream.Stream, error) {
	h, err := s.d.Manager.Acquire(cameraID)
	if err != nil {
		if errors.Is(err, core.ErrOpenFailed) {
			s.markOpenFailed(ctx, cameraID, err)
		}
		return nil, err
	}

	s.mu.Lock()
	first := s.active[cameraID] == 0
	s.active[cameraID]++
	s.mu.Unlock()
	if first {
		s.markOpened(ctx, cameraID, h)
	}

	opts := stream.Options{
		Reader:  h,
		Kind:    "camera",
		Detect:  detect,
		Engines: s.d.Engines,
		Encoder: s.d.Encoder,
		Quality: s.cfg.Quality,
		Metrics: s.d.Metrics,
		OnClose: func() { s.streamClosed(cameraID) },
	}
	if detect && s.d.Coordinator != nil {
		opts.Observer = s.d.Coordinator.Session(cameraID)
	}
	log.Printf("[supervisor] camera %d: stream started (detect=%t)", cameraID, detect)
	return stream.New(opts), nil
}

func (s *Supervisor) streamClosed(cameraID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[cameraID] <= 1 {
		delete(s.active, cameraID)
		return
	}
	s.active[cameraID]--
}

// ActiveStreams is the number of live streams reading cameraID.
func (s *Supervisor) ActiveStreams(cameraID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[cameraID]
}

// StopStream releases the camera's device. Streams still reading it end with
// an error on their next frame.
func (s *Supervisor) StopStream(ctx context.Context, cameraID uint) {
	s.d.Manager.Release(cameraID)
	s.event(ctx, "camera_released", "info", fmt.Sprintf("camera %d released", cameraID), "")
}

// Shutdown releases every device. StartStream fails afterwards.
func (s *Supervisor) Shutdown() {
	log.Printf("[supervisor] releasing all cameras")
	s.d.Manager.ReleaseAll()
}

func (s *Supervisor) markOpened(ctx context.Context, cameraID uint, h *capture.Handle) {
	s.event(ctx, "camera_opened", "info",
		fmt.Sprintf("camera %d opened on device %d", cameraID, h.PhysicalID()), h.Resolution())

	cam, err := s.d.Cameras.Get(ctx, cameraID)
	if err != nil || cam.Status != core.CameraError {
		return
	}
	if err := s.d.Cameras.SetStatus(ctx, cameraID, core.CameraActive); err != nil {
		log.Printf("[supervisor] camera %d: set status active: %v", cameraID, err)
	}
}

func (s *Supervisor) markOpenFailed(ctx context.Context, cameraID uint, cause error) {
	s.event(ctx, "camera_open_failed", "error", fmt.Sprintf("camera %d could not be opened", cameraID), cause.Error())
	if err := s.d.Cameras.SetStatus(ctx, cameraID, core.CameraError); err != nil {
		log.Printf("[supervisor] camera %d: set status error: %v", cameraID, err)
	}
}

func (s *Supervisor) event(ctx context.Context, typ, level, msg, details string) {
	if s.d.Events == nil {
		return
	}
	err := s.d.Events.RecordEvent(ctx, datastore.SystemEvent{
		Timestamp: s.now().UTC(),
		Type:      typ,
		Level:     level,
		Message:   msg,
		Details:   details,
	})
	if err != nil {
		log.Printf("[supervisor] record event %s: %v", typ, err)
	}
}

// Status of one camera as reported by CameraStatus.
type Status struct {
	CameraID uint                    `json:"camera_id"`
	State    capture.ConnectionState `json:"status"`
	Health   *capture.HandleHealth   `json:"health,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// freshFrame is how recent a frame must be for a handle to count as online
// without a test read.
const freshFrame = 2 * time.Second

// CameraStatus opens the camera if needed and reports whether it delivers
// frames. Unknown ids fail with ErrNotConfigured.
func (s *Supervisor) CameraStatus(ctx context.Context, cameraID uint) (Status, error) {
	h, err := s.d.Manager.Acquire(cameraID)
	if err != nil {
		if errors.Is(err, core.ErrOpenFailed) {
			s.markOpenFailed(ctx, cameraID, err)
			return Status{CameraID: cameraID, State: capture.ConnectionStateOffline, Error: err.Error()}, nil
		}
		return Status{}, err
	}

	hh := h.Health()
	if hh.FramesRead == 0 || s.now().Sub(hh.LastFrameAt) > freshFrame {
		frame, rerr := h.Read()
		if rerr == nil {
			frame.Close()
		}
		hh = h.Health()
	}
	st := Status{CameraID: cameraID, State: hh.State, Health: &hh}
	if hh.LastError != "" && hh.State != capture.ConnectionStateOnline {
		st.Error = hh.LastError
	}
	return st, nil
}
