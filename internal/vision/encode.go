package vision

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/sua-org/ppe-watch/internal/core"
)

type JPEGEncoder struct{}

func (JPEGEncoder) Encode(frame core.Frame, quality int) ([]byte, error) {
	f, err := asFrame(frame)
	if err != nil {
		return nil, err
	}
	if f.Mat.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	// GetBytes aliases C memory that Close frees.
	return append([]byte(nil), buf.GetBytes()...), nil
}
