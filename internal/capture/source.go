// internal/capture/source.go
package capture

import (
	"fmt"

	"github.com/sua-org/ppe-watch/internal/core"
)

// Params are the acquisition settings applied to every device on open.
type Params struct {
	Width      int
	Height     int
	FPS        int
	BufferSize int
}

// DefaultParams: 1280x720 at 30 fps with a single-frame driver buffer so reads
// never return stale frames.
func DefaultParams() Params {
	return Params{Width: 1280, Height: 720, FPS: 30, BufferSize: 1}
}

func (p Params) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Source is an open frame source. Read blocks until a frame is available; it
// returns io.EOF when a file is exhausted and any other error on device
// failure. Callers own the returned frame.
type Source interface {
	Read() (core.Frame, error)
	Close() error
}

// FileInfo describes a video file as reported by its decoder.
type FileInfo struct {
	TotalFrames int
	FPS         float64
	Width       int
	Height      int
}

// DurationSec is TotalFrames/FPS, zero when the decoder reports no frame rate.
func (i FileInfo) DurationSec() float64 {
	if i.FPS <= 0 {
		return 0
	}
	return float64(i.TotalFrames) / i.FPS
}

func (i FileInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// FileSource is a Source backed by a video file.
type FileSource interface {
	Source
	Info() FileInfo
}

// DeviceOpener opens physical capture devices by index.
type DeviceOpener interface {
	OpenDevice(physicalID int, p Params) (Source, error)
	// Probe opens and immediately closes the device, returning the
	// resolution it reports.
	Probe(physicalID int, p Params) (width, height int, err error)
}

// FileOpener opens video files for decoding.
type FileOpener interface {
	OpenFile(path string) (FileSource, error)
}

// ConnectionState is the health of a camera handle as published by the
// supervisor and the camera status endpoint.
type ConnectionState string

const (
	ConnectionStateOnline  ConnectionState = "online"
	ConnectionStateOffline ConnectionState = "offline"
	ConnectionStateError   ConnectionState = "error"
)
