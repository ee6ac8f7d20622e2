// internal/capture/handle.go
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sua-org/ppe-watch/internal/core"
)

// Handle is an open device owned by the Manager. Consumers read frames through
// it but never close it; Manager.Release does.
type Handle struct {
	cameraID   uint
	physicalID int
	resolution string
	openedAt   time.Time
	now        func() time.Time

	// readMu serializes reads against close.
	readMu   sync.Mutex
	src      Source
	released atomic.Bool

	statsMu     sync.Mutex
	failed      bool
	framesRead  uint64
	lastFrameAt time.Time
	lastErr     error
}

// HandleHealth is a point-in-time copy of a handle's counters.
type HandleHealth struct {
	CameraID    uint            `json:"camera_id"`
	PhysicalID  int             `json:"physical_id"`
	Resolution  string          `json:"resolution"`
	State       ConnectionState `json:"state"`
	OpenedAt    time.Time       `json:"opened_at"`
	LastFrameAt time.Time       `json:"last_frame_at,omitempty"`
	FramesRead  uint64          `json:"frames_read"`
	LastError   string          `json:"last_error,omitempty"`
}

func newHandle(cam core.LogicalCamera, src Source, resolution string, now func() time.Time) *Handle {
	return &Handle{
		cameraID:   cam.ID,
		physicalID: cam.PhysicalID,
		resolution: resolution,
		openedAt:   now(),
		now:        now,
		src:        src,
	}
}

func (h *Handle) CameraID() uint     { return h.cameraID }
func (h *Handle) PhysicalID() int    { return h.physicalID }
func (h *Handle) Resolution() string { return h.resolution }

// Read blocks until the device returns a frame. A release that arrives
// while a read is in flight takes effect once that read returns; the next
// Read fails with core.ErrReleased.
func (h *Handle) Read() (core.Frame, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	if h.released.Load() {
		return nil, core.ErrReleased
	}
	frame, err := h.src.Read()

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	if err != nil {
		h.failed = true
		h.lastErr = err
		return nil, err
	}
	h.framesRead++
	h.lastFrameAt = h.now()
	return frame, nil
}

// usable reports whether the handle can be handed out again.
func (h *Handle) usable() bool {
	if h.released.Load() {
		return false
	}
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return !h.failed
}

// close waits for an in-flight Read, then closes the device. Idempotent.
func (h *Handle) close() error {
	h.readMu.Lock()
	defer h.readMu.Unlock()
	if h.released.Swap(true) {
		return nil
	}
	return h.src.Close()
}

// Health never blocks on an in-flight read.
func (h *Handle) Health() HandleHealth {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	hh := HandleHealth{
		CameraID:    h.cameraID,
		PhysicalID:  h.physicalID,
		Resolution:  h.resolution,
		State:       ConnectionStateOnline,
		OpenedAt:    h.openedAt,
		LastFrameAt: h.lastFrameAt,
		FramesRead:  h.framesRead,
	}
	if h.lastErr != nil {
		hh.LastError = h.lastErr.Error()
	}
	switch {
	case h.released.Load():
		hh.State = ConnectionStateOffline
	case h.failed:
		hh.State = ConnectionStateError
	}
	return hh
}
