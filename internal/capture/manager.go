// internal/capture/manager.go
package capture

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/metrics"
)

// MaxPhysicalIndex is the highest device index probed by ListPhysical.
const MaxPhysicalIndex = 10

// CameraLookup resolves a logical camera id. Implementations return an error
// wrapping core.ErrNotFound for unknown ids.
type CameraLookup interface {
	Camera(id uint) (core.LogicalCamera, error)
}

// PhysicalCamera is one entry of a device enumeration.
type PhysicalCamera struct {
	Index      int    `json:"index"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Resolution string `json:"resolution"`
	InUse      bool   `json:"in_use"`
	CameraID   uint   `json:"camera_id,omitempty"`
}

// Manager owns every open device handle, keyed by logical camera id. All
// access to the table goes through Acquire/Release.
type Manager struct {
	lookup  CameraLookup
	opener  DeviceOpener
	params  Params
	metrics *metrics.PipelineMetrics
	now     func() time.Time

	mu      sync.Mutex
	handles map[uint]*Handle
	closed  bool
}

func NewManager(lookup CameraLookup, opener DeviceOpener, params Params, m *metrics.PipelineMetrics) *Manager {
	return &Manager{
		lookup:  lookup,
		opener:  opener,
		params:  params,
		metrics: m,
		now:     time.Now,
		handles: make(map[uint]*Handle),
	}
}

// Acquire returns the open handle for cameraID, opening the device on first
// use. A handle whose last read failed is closed and the device re-opened.
//
// The table lock is held across the lookup and the device open, so a camera
// deleted concurrently can never end up with a new handle. While a slow open
// runs, Release and ReleaseAll of other cameras wait for it.
func (m *Manager) Acquire(cameraID uint) (*Handle, error) {
	var stale *Handle
	// Runs after Unlock: closing waits for readers of the stale handle.
	defer func() {
		if stale == nil {
			return
		}
		if err := stale.close(); err != nil {
			log.Printf("[capture] camera %d: close failed handle: %v", cameraID, err)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, core.ErrClosed
	}
	if h, ok := m.handles[cameraID]; ok {
		if h.usable() {
			return h, nil
		}
		log.Printf("[capture] camera %d: discarding failed handle", cameraID)
		delete(m.handles, cameraID)
		m.metrics.SetOpenHandles(len(m.handles))
		stale = h
	}

	cam, err := m.lookup.Camera(cameraID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("camera %d: %w", cameraID, core.ErrNotConfigured)
		}
		return nil, fmt.Errorf("lookup camera %d: %w", cameraID, err)
	}

	src, err := m.opener.OpenDevice(cam.PhysicalID, m.params)
	if err != nil {
		m.metrics.OpenFailed()
		log.Printf("[capture] camera %d: open device %d failed: %v", cameraID, cam.PhysicalID, err)
		return nil, fmt.Errorf("camera %d device %d: %w: %v", cameraID, cam.PhysicalID, core.ErrOpenFailed, err)
	}

	h := newHandle(cam, src, m.params.Resolution(), m.now)
	m.handles[cameraID] = h
	m.metrics.SetOpenHandles(len(m.handles))
	log.Printf("[capture] camera %d: opened device %d at %s", cameraID, cam.PhysicalID, h.resolution)
	return h, nil
}

// Release closes the handle for cameraID if one is open. Safe to call any
// number of times; it waits for an in-flight read on the handle to return.
func (m *Manager) Release(cameraID uint) {
	m.mu.Lock()
	h, ok := m.handles[cameraID]
	if ok {
		delete(m.handles, cameraID)
		m.metrics.SetOpenHandles(len(m.handles))
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := h.close(); err != nil {
		log.Printf("[capture] camera %d: close: %v", cameraID, err)
	}
	log.Printf("[capture] camera %d: released", cameraID)
}

// ReleaseAll closes every handle and refuses further acquisitions. Only the
// first call has any effect.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	hs := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		hs = append(hs, h)
	}
	m.handles = make(map[uint]*Handle)
	m.metrics.SetOpenHandles(0)
	m.mu.Unlock()

	sort.Slice(hs, func(i, j int) bool { return hs[i].cameraID < hs[j].cameraID })
	for _, h := range hs {
		if err := h.close(); err != nil {
			log.Printf("[capture] camera %d: close: %v", h.cameraID, err)
		}
	}
	log.Printf("[capture] released %d handle(s)", len(hs))
}

// ListPhysical probes device indices 0..MaxPhysicalIndex. Indices that fail to
// open are left out. Devices held by a handle when the call starts are
// reported from that handle and not reopened. Probing runs without the table
// lock.
func (m *Manager) ListPhysical() []PhysicalCamera {
	type heldDevice struct {
		cameraID   uint
		resolution string
	}
	m.mu.Lock()
	held := make(map[int]heldDevice, len(m.handles))
	for _, h := range m.handles {
		held[h.physicalID] = heldDevice{cameraID: h.cameraID, resolution: h.resolution}
	}
	m.mu.Unlock()

	var out []PhysicalCamera
	for idx := 0; idx <= MaxPhysicalIndex; idx++ {
		if h, ok := held[idx]; ok {
			out = append(out, PhysicalCamera{
				Index:      idx,
				Width:      m.params.Width,
				Height:     m.params.Height,
				Resolution: h.resolution,
				InUse:      true,
				CameraID:   h.cameraID,
			})
			continue
		}
		w, hgt, err := m.opener.Probe(idx, m.params)
		if err != nil {
			continue
		}
		out = append(out, PhysicalCamera{
			Index:      idx,
			Width:      w,
			Height:     hgt,
			Resolution: fmt.Sprintf("%dx%d", w, hgt),
		})
	}
	return out
}

// Health returns a snapshot of every open handle, ordered by camera id.
func (m *Manager) Health() []HandleHealth {
	m.mu.Lock()
	hs := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	out := make([]HandleHealth, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Health())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// HealthOf returns the health of one camera's handle, if open.
func (m *Manager) HealthOf(cameraID uint) (HandleHealth, bool) {
	m.mu.Lock()
	h, ok := m.handles[cameraID]
	m.mu.Unlock()
	if !ok {
		return HandleHealth{}, false
	}
	return h.Health(), true
}
