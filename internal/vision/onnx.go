package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/detection"
)

type ModelConfig struct {
	Path       string
	Labels     []string
	Confidence float32
	IOU        float32
	InputSize  int
}

// ONNXInferer runs a YOLOv8 detection model exported to ONNX. Forward calls
// are serialized; one instance is shared by every stream.
type ONNXInferer struct {
	mu  sync.Mutex
	net gocv.Net
	cfg ModelConfig
}

func NewONNXInferer(cfg ModelConfig) (*ONNXInferer, error) {
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("model %s: no labels configured", cfg.Path)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	net := gocv.ReadNetFromONNX(cfg.Path)
	if net.Empty() {
		return nil, fmt.Errorf("load model %s", cfg.Path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &ONNXInferer{net: net, cfg: cfg}, nil
}

func (m *ONNXInferer) Infer(frame core.Frame) ([]detection.RawDetection, error) {
	f, err := asFrame(frame)
	if err != nil {
		return nil, err
	}
	size := m.cfg.InputSize
	blob := gocv.BlobFromImage(f.Mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	m.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] != 4+len(m.cfg.Labels) {
		return nil, fmt.Errorf("unexpected output shape %v for %d labels", dims, len(m.cfg.Labels))
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return m.decode(data, dims[2], f.Width(), f.Height()), nil
}

// decode parses a [1, 4+classes, n] tensor into boxes scaled back to the frame
// and applies non-maximum suppression.
func (m *ONNXInferer) decode(data []float32, n, width, height int) []detection.RawDetection {
	sx := float32(width) / float32(m.cfg.InputSize)
	sy := float32(height) / float32(m.cfg.InputSize)

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < n; i++ {
		best, bestScore := -1, float32(0)
		for c := range m.cfg.Labels {
			if s := data[(4+c)*n+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < m.cfg.Confidence {
			continue
		}
		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		scores = append(scores, bestScore)
		classes = append(classes, best)
	}
	if len(boxes) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(boxes, scores, m.cfg.Confidence, m.cfg.IOU)
	out := make([]detection.RawDetection, 0, len(keep))
	for _, k := range keep {
		b := boxes[k]
		out = append(out, detection.RawDetection{
			BBox:       core.BBox{X1: clamp(b.Min.X, width), Y1: clamp(b.Min.Y, height), X2: clamp(b.Max.X, width), Y2: clamp(b.Max.Y, height)},
			Confidence: float64(scores[k]),
			Class:      m.cfg.Labels[classes[k]],
		})
	}
	return out
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func (m *ONNXInferer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
