// Package vision binds the pipeline interfaces to OpenCV through gocv.
package vision

import (
	"errors"
	"fmt"
	"io"

	"gocv.io/x/gocv"

	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/core"
)

func init() {
	capture.RegisterBackend("opencv", func() capture.Backend {
		return capture.Backend{Devices: DeviceOpener{}, Files: FileOpener{}}
	})
}

var errReadFailed = errors.New("device returned no frame")

// Frame is a decoded BGR image.
type Frame struct {
	Mat gocv.Mat
}

func (f *Frame) Width() int   { return f.Mat.Cols() }
func (f *Frame) Height() int  { return f.Mat.Rows() }
func (f *Frame) Close() error { return f.Mat.Close() }

func asFrame(frame core.Frame) (*Frame, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	return f, nil
}

type DeviceOpener struct{}

func (DeviceOpener) OpenDevice(physicalID int, p capture.Params) (capture.Source, error) {
	vc, err := gocv.OpenVideoCapture(physicalID)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", physicalID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("device %d not available", physicalID)
	}
	vc.Set(gocv.VideoCaptureBufferSize, float64(p.BufferSize))
	vc.Set(gocv.VideoCaptureFrameWidth, float64(p.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(p.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(p.FPS))
	return &videoSource{vc: vc}, nil
}

func (DeviceOpener) Probe(physicalID int, p capture.Params) (int, int, error) {
	vc, err := gocv.OpenVideoCapture(physicalID)
	if err != nil {
		return 0, 0, err
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return 0, 0, fmt.Errorf("device %d not available", physicalID)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(p.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(p.Height))
	return int(vc.Get(gocv.VideoCaptureFrameWidth)), int(vc.Get(gocv.VideoCaptureFrameHeight)), nil
}

type FileOpener struct{}

func (FileOpener) OpenFile(path string) (capture.FileSource, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot decode %s", path)
	}
	info := capture.FileInfo{
		TotalFrames: int(vc.Get(gocv.VideoCaptureFrameCount)),
		FPS:         vc.Get(gocv.VideoCaptureFPS),
		Width:       int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}
	return &videoSource{vc: vc, file: true, info: info}, nil
}

// videoSource reads from a device or a file. For files an empty read is the
// end of the stream.
type videoSource struct {
	vc   *gocv.VideoCapture
	file bool
	info capture.FileInfo
}

func (s *videoSource) Read() (core.Frame, error) {
	mat := gocv.NewMat()
	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if s.file {
			return nil, io.EOF
		}
		return nil, errReadFailed
	}
	return &Frame{Mat: mat}, nil
}

func (s *videoSource) Info() capture.FileInfo { return s.info }

func (s *videoSource) Close() error { return s.vc.Close() }
