// Package stream turns a frame source into an ordered sequence of encoded
// frames, optionally running detection on each one.
package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/detection"
	"github.com/sua-org/ppe-watch/internal/metrics"
)

// DefaultQuality is the JPEG quality factor used for every emitted frame.
const DefaultQuality = 85

// Reader yields frames in source order. io.EOF ends the stream normally.
type Reader interface {
	Read() (core.Frame, error)
}

type Encoder interface {
	Encode(frame core.Frame, quality int) ([]byte, error)
}

// EngineProvider hands out the shared detection engine.
type EngineProvider interface {
	Get() (*detection.Engine, error)
}

// EndReason is why a stream stopped producing chunks.
type EndReason string

const (
	EndNone      EndReason = ""
	EndEOF       EndReason = "eof"
	EndError     EndReason = "error"
	EndCancelled EndReason = "cancelled"
	EndStopped   EndReason = "stopped"
)

// Observation is handed to the Observer for every processed frame, before the
// frame is closed. Frame is only valid during the call.
type Observation struct {
	Seq        uint64
	At         time.Time
	Frame      core.Frame
	JPEG       []byte
	Detections []core.ItemDetection
	// Compliance is nil when detection is off or failed for this frame.
	Compliance *core.ComplianceResult
}

// Observer sees every processed frame. Returning an error stops the stream
// with EndStopped.
type Observer interface {
	Observe(ctx context.Context, obs Observation) error
}

// EndObserver is optionally implemented by an Observer that wants to know how
// the stream finished.
type EndObserver interface {
	StreamEnded(reason EndReason)
}

type Options struct {
	Reader Reader
	// Kind labels metrics: "camera" or "video".
	Kind    string
	Detect  bool
	Engines EngineProvider
	Encoder Encoder
	Quality int
	// MaxFrames bounds the number of reads; 0 means unbounded.
	MaxFrames int
	// Pace is the delay inserted before every read after the first.
	Pace     time.Duration
	Observer Observer
	Metrics  *metrics.PipelineMetrics
	// OnClose runs once when the stream ends, e.g. to close a file source.
	OnClose func()
}

// Chunk is one emitted frame.
type Chunk struct {
	Seq        uint64
	JPEG       []byte
	Compliance *core.ComplianceResult
}

// Stream is a pull iterator in the style of bufio.Scanner:
//
//	for s.Next(ctx) {
//		use(s.Chunk())
//	}
//	reason, err := s.End()
//
// A Stream is not safe for concurrent use and cannot be restarted.
type Stream struct {
	opts Options
	now  func() time.Time

	started bool
	reads   int
	seq     uint64
	chunk   Chunk
	end     EndReason
	err     error

	engine       *detection.Engine
	engineFailed bool
}

func New(opts Options) *Stream {
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}
	if opts.Kind == "" {
		opts.Kind = "camera"
	}
	return &Stream{opts: opts, now: time.Now}
}

// Next advances to the next encoded frame. It returns false once the stream
// has ended; End reports why.
func (s *Stream) Next(ctx context.Context) bool {
	if s.end != EndNone {
		return false
	}
	if !s.started {
		s.started = true
		s.opts.Metrics.StreamStarted(s.opts.Kind)
	}

	for {
		if err := ctx.Err(); err != nil {
			s.finish(EndCancelled, err)
			return false
		}
		if s.opts.MaxFrames > 0 && s.reads >= s.opts.MaxFrames {
			s.finish(EndEOF, nil)
			return false
		}
		if s.reads > 0 && s.opts.Pace > 0 {
			if !sleep(ctx, s.opts.Pace) {
				s.finish(EndCancelled, ctx.Err())
				return false
			}
		}

		frame, err := s.opts.Reader.Read()
		s.reads++
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish(EndEOF, nil)
			} else {
				s.finish(EndError, err)
			}
			return false
		}

		chunk, ok, err := s.handle(ctx, frame)
		if err != nil {
			s.finish(EndStopped, err)
			return false
		}
		if !ok {
			continue
		}
		s.chunk = chunk
		return true
	}
}

// handle runs detection, encoding and the observer on one frame, then closes
// it. ok is false when the frame could not be encoded and must be skipped.
func (s *Stream) handle(ctx context.Context, frame core.Frame) (chunk Chunk, ok bool, err error) {
	defer frame.Close()

	s.seq++
	obs := Observation{Seq: s.seq, At: s.now(), Frame: frame}

	if s.opts.Detect {
		if eng := s.detectionEngine(); eng != nil {
			res, derr := eng.Process(frame)
			if derr != nil {
				log.Printf("[stream] %s frame %d: detection failed: %v", s.opts.Kind, s.seq, derr)
			} else {
				compliance := res.Compliance
				obs.Detections = res.Detections
				obs.Compliance = &compliance
			}
		}
	}

	data, encErr := s.opts.Encoder.Encode(frame, s.opts.Quality)
	if encErr != nil {
		s.opts.Metrics.FrameSkipped()
		log.Printf("[stream] %s frame %d: %v: %v", s.opts.Kind, s.seq, core.ErrDecodeFailed, encErr)
		data = nil
	}
	obs.JPEG = data

	if s.opts.Observer != nil {
		if err := s.opts.Observer.Observe(ctx, obs); err != nil {
			return Chunk{}, false, err
		}
	}
	if encErr != nil {
		return Chunk{}, false, nil
	}

	s.opts.Metrics.FrameProcessed(s.opts.Kind)
	return Chunk{Seq: s.seq, JPEG: data, Compliance: obs.Compliance}, true, nil
}

// detectionEngine loads the shared engine on first use. A failed load is
// logged once and the stream continues without detection.
func (s *Stream) detectionEngine() *detection.Engine {
	if s.engine != nil || s.engineFailed {
		return s.engine
	}
	if s.opts.Engines == nil {
		s.engineFailed = true
		return nil
	}
	eng, err := s.opts.Engines.Get()
	if err != nil {
		log.Printf("[stream] detection unavailable, streaming raw frames: %v", err)
		s.engineFailed = true
		return nil
	}
	s.engine = eng
	return eng
}

func (s *Stream) Chunk() Chunk { return s.chunk }

// End reports why the stream ended. The error is nil for EndEOF.
func (s *Stream) End() (EndReason, error) { return s.end, s.err }

// Frames is the number of frames processed so far, skipped ones included.
func (s *Stream) Frames() uint64 { return s.seq }

// Close ends a stream that is abandoned before it finished on its own.
func (s *Stream) Close() {
	if s.end == EndNone {
		s.finish(EndCancelled, context.Canceled)
	}
}

func (s *Stream) finish(reason EndReason, err error) {
	s.end = reason
	s.err = err
	s.chunk = Chunk{}
	if s.started {
		s.opts.Metrics.StreamEnded(s.opts.Kind)
	}
	if reason == EndError {
		log.Printf("[stream] %s stream ended after %d frame(s): %v", s.opts.Kind, s.seq, err)
	}
	if eo, ok := s.opts.Observer.(EndObserver); ok {
		eo.StreamEnded(reason)
	}
	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
