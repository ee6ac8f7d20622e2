package stream

import (
	"context"
	"fmt"
	"io"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

var partHeader = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")

// Part is the chunk wrapped as one multipart section.
func (c Chunk) Part() []byte {
	out := make([]byte, 0, len(partHeader)+len(c.JPEG)+2)
	out = append(out, partHeader...)
	out = append(out, c.JPEG...)
	out = append(out, '\r', '\n')
	return out
}

// WriteMJPEG copies the stream to w as multipart parts until the stream ends
// or a write fails. flush may be nil.
func WriteMJPEG(ctx context.Context, w io.Writer, flush func(), s *Stream) error {
	defer s.Close()
	for s.Next(ctx) {
		if _, err := w.Write(s.Chunk().Part()); err != nil {
			return fmt.Errorf("write part: %w", err)
		}
		if flush != nil {
			flush()
		}
	}
	reason, err := s.End()
	if reason == EndError || reason == EndStopped {
		return err
	}
	return nil
}
