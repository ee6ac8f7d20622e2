package detection

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/metrics"
)

// RawDetection is what the inference model returns before label mapping.
type RawDetection struct {
	BBox       core.BBox
	Confidence float64
	Class      string
}

// Inferer is the opaque model: one call per frame.
//
// Implementations may serialize calls internally; the Engine shares a single
// Inferer across every stream.
type Inferer interface {
	Infer(frame core.Frame) ([]RawDetection, error)
	Close() error
}

// Annotator draws boxes and the status panel onto a frame, in place.
type Annotator interface {
	Annotate(frame core.Frame, dets []core.ItemDetection, res core.ComplianceResult) error
}

// Result of processing one frame. Frame is the same frame that was passed in,
// annotated when the engine has an Annotator.
type Result struct {
	Frame      core.Frame
	Detections []core.ItemDetection
	Compliance core.ComplianceResult
}

// Engine wraps one inference call with label mapping, classification and
// annotation.
type Engine struct {
	inferer   Inferer
	annotator Annotator
	metrics   *metrics.PipelineMetrics
}

func NewEngine(inferer Inferer, annotator Annotator, m *metrics.PipelineMetrics) *Engine {
	return &Engine{inferer: inferer, annotator: annotator, metrics: m}
}

// Detect runs inference and maps raw labels. A panicking model is turned into
// an error so the calling stream survives.
func (e *Engine) Detect(frame core.Frame) (dets []core.ItemDetection, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[detection] panic in inferer: %v\n%s", r, string(debug.Stack()))
			dets, err = nil, fmt.Errorf("panic in inferer: %v", r)
		}
	}()

	start := time.Now()
	raw, err := e.inferer.Infer(frame)
	e.metrics.ObserveInference(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}

	dets = make([]core.ItemDetection, 0, len(raw))
	for _, r := range raw {
		itemType, present := MapLabel(r.Class)
		dets = append(dets, core.ItemDetection{
			BBox:       r.BBox,
			Confidence: r.Confidence,
			RawClass:   r.Class,
			Present:    present,
			ItemType:   itemType,
		})
	}
	return dets, nil
}

// Classify is the pure classification step, exposed on the engine for callers
// that hold one.
func (e *Engine) Classify(dets []core.ItemDetection) core.ComplianceResult {
	return Classify(dets)
}

// Process detects, classifies and annotates one frame.
func (e *Engine) Process(frame core.Frame) (Result, error) {
	dets, err := e.Detect(frame)
	if err != nil {
		return Result{Frame: frame}, err
	}
	res := Classify(dets)
	if e.annotator != nil {
		if err := e.annotator.Annotate(frame, dets, res); err != nil {
			log.Printf("[detection] annotate failed: %v", err)
		}
	}
	return Result{Frame: frame, Detections: dets, Compliance: res}, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	if e == nil || e.inferer == nil {
		return nil
	}
	return e.inferer.Close()
}

// Factory builds the engine. Called at most once per Provider.
type Factory func() (*Engine, error)

// Provider hands out the process-wide Engine, loading the model on first use.
// Concurrent first calls block on the same load; a failed load is not retried.
type Provider struct {
	factory Factory

	once   sync.Once
	engine *Engine
	err    error
}

func NewProvider(factory Factory) *Provider {
	return &Provider{factory: factory}
}

// Get returns the shared engine.
func (p *Provider) Get() (*Engine, error) {
	p.once.Do(func() {
		log.Printf("[detection] loading model")
		p.engine, p.err = p.factory()
		if p.err != nil {
			log.Printf("[detection] model load failed: %v", p.err)
			return
		}
		log.Printf("[detection] model loaded")
	})
	return p.engine, p.err
}

// Close releases the engine if it was ever loaded.
func (p *Provider) Close() error {
	var err error
	// Do marks the once as spent, so Get after Close never loads the model.
	p.once.Do(func() { p.err = fmt.Errorf("detection provider closed") })
	if p.engine != nil {
		err = p.engine.Close()
	}
	return err
}
