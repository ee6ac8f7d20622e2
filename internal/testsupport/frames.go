// Package testsupport holds fakes shared by package tests.
package testsupport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/core"
)

// Frame is an in-memory frame identified by its sequence number.
type Frame struct {
	W, H   int
	Seq    int
	closed atomic.Bool
}

func NewFrame(seq int) *Frame {
	return &Frame{W: 1280, H: 720, Seq: seq}
}

func (f *Frame) Width() int   { return f.W }
func (f *Frame) Height() int  { return f.H }
func (f *Frame) Close() error { f.closed.Store(true); return nil }
func (f *Frame) Closed() bool { return f.closed.Load() }

// ErrSourceClosed is returned by Source.Read after Close.
var ErrSourceClosed = errors.New("source closed")

// Source yields Frames numbered from 0. With a negative limit it never ends;
// otherwise it returns EndErr (io.EOF by default) after limit frames.
type Source struct {
	mu     sync.Mutex
	limit  int
	next   int
	EndErr error
	closed bool
	frames []*Frame

	// Gate, when set, makes every Read wait for a value before returning.
	Gate chan struct{}
}

func NewSource(limit int) *Source {
	return &Source{limit: limit, EndErr: io.EOF}
}

func (s *Source) Read() (core.Frame, error) {
	if s.Gate != nil {
		<-s.Gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.limit >= 0 && s.next >= s.limit {
		return nil, s.EndErr
	}
	f := NewFrame(s.next)
	s.next++
	s.frames = append(s.frames, f)
	return f, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Frames returns every frame handed out so far.
func (s *Source) Frames() []*Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Frame(nil), s.frames...)
}

// FileSource is a Source with file metadata.
type FileSource struct {
	*Source
	info capture.FileInfo
}

func (f *FileSource) Info() capture.FileInfo { return f.info }

// DeviceOpener opens Sources for the indices listed in Available.
type DeviceOpener struct {
	mu        sync.Mutex
	available map[int]bool
	// Frames per opened source; negative means endless.
	Frames  int
	opens   map[int]int
	sources map[int][]*Source

	// ProbeGate, when set, makes every Probe wait for a value or a close.
	ProbeGate chan struct{}
	probing   atomic.Int64
}

func NewDeviceOpener(available ...int) *DeviceOpener {
	o := &DeviceOpener{
		available: make(map[int]bool),
		Frames:    -1,
		opens:     make(map[int]int),
		sources:   make(map[int][]*Source),
	}
	for _, idx := range available {
		o.available[idx] = true
	}
	return o
}

// SetAvailable marks a device index as present or busy.
func (o *DeviceOpener) SetAvailable(idx int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.available[idx] = ok
}

func (o *DeviceOpener) OpenDevice(physicalID int, _ capture.Params) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.available[physicalID] {
		return nil, fmt.Errorf("device %d busy", physicalID)
	}
	src := NewSource(o.Frames)
	o.opens[physicalID]++
	o.sources[physicalID] = append(o.sources[physicalID], src)
	return src, nil
}

func (o *DeviceOpener) Probe(physicalID int, p capture.Params) (int, int, error) {
	if o.ProbeGate != nil {
		o.probing.Add(1)
		<-o.ProbeGate
		o.probing.Add(-1)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.available[physicalID] {
		return 0, 0, fmt.Errorf("device %d not present", physicalID)
	}
	return p.Width, p.Height, nil
}

// Probing is the number of Probe calls blocked on ProbeGate.
func (o *DeviceOpener) Probing() int64 { return o.probing.Load() }

// Opens is how many times physicalID was opened through OpenDevice.
func (o *DeviceOpener) Opens(physicalID int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[physicalID]
}

// Sources returns the sources opened for physicalID, oldest first.
func (o *DeviceOpener) Sources(physicalID int) []*Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Source(nil), o.sources[physicalID]...)
}

// FileOpener serves FileSources for registered paths.
type FileOpener struct {
	mu    sync.Mutex
	files map[string]capture.FileInfo
	// Default, when set, serves any path that was not registered.
	Default *capture.FileInfo
	opened  []string
	last    *FileSource
}

func NewFileOpener() *FileOpener {
	return &FileOpener{files: make(map[string]capture.FileInfo)}
}

// Register makes path openable with the given metadata. Any path not
// registered fails to open.
func (o *FileOpener) Register(path string, info capture.FileInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[path] = info
}

func (o *FileOpener) OpenFile(path string) (capture.FileSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)
	info, ok := o.files[path]
	if !ok && o.Default != nil {
		info, ok = *o.Default, true
	}
	if !ok {
		return nil, fmt.Errorf("cannot decode %s", path)
	}
	o.last = &FileSource{Source: NewSource(info.TotalFrames), info: info}
	return o.last, nil
}

// Opened lists every path passed to OpenFile, including failures.
func (o *FileOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

func (o *FileOpener) Last() *FileSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// CameraLookup is a fixed camera table.
type CameraLookup map[uint]core.LogicalCamera

func (l CameraLookup) Camera(id uint) (core.LogicalCamera, error) {
	cam, ok := l[id]
	if !ok {
		return core.LogicalCamera{}, fmt.Errorf("camera %d: %w", id, core.ErrNotFound)
	}
	return cam, nil
}
