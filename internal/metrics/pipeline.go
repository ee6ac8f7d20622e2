// Package metrics provides the Prometheus metrics of the detection pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains the Prometheus metrics for streams, inference,
// persistence and alerting. A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	FramesProcessed   *prometheus.CounterVec
	FramesSkipped     prometheus.Counter
	InferenceDuration prometheus.Histogram
	DetectionsStored  prometheus.Counter
	StorageFailures   *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	AlertsSuppressed  prometheus.Counter
	AlertsDropped     prometheus.Counter
	ActiveStreams     *prometheus.GaugeVec
	OpenHandles       prometheus.Gauge
	OpenFailures      prometheus.Counter
}

// NewPipelineMetrics creates the metrics and registers them on registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.FramesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_frames_processed_total",
		Help: "Total number of frames emitted by streams",
	}, []string{"source"})

	m.FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_frames_skipped_total",
		Help: "Frames dropped because they could not be encoded",
	})

	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ppe_inference_duration_seconds",
		Help:    "Time spent in one inference call",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	m.DetectionsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_detections_stored_total",
		Help: "Stored detection records",
	})

	m.StorageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_storage_failures_total",
		Help: "Detection, alert or snapshot writes that failed",
	}, []string{"kind"})

	m.AlertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_alerts_total",
		Help: "Alerts created, by severity",
	}, []string{"severity"})

	m.AlertsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_alerts_suppressed_total",
		Help: "Non-compliant checkpoints that were inside the throttle window",
	})

	m.AlertsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_alert_events_dropped_total",
		Help: "Alert events not published because the outbox was full",
	})

	m.ActiveStreams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ppe_active_streams",
		Help: "Streams currently emitting frames",
	}, []string{"source"})

	m.OpenHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ppe_camera_handles_open",
		Help: "Camera devices currently held open",
	})

	m.OpenFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_camera_open_failures_total",
		Help: "Device opens that failed",
	})
}

func (m *PipelineMetrics) FrameProcessed(source string) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(source).Inc()
}

func (m *PipelineMetrics) FrameSkipped() {
	if m == nil {
		return
	}
	m.FramesSkipped.Inc()
}

func (m *PipelineMetrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceDuration.Observe(d.Seconds())
}

func (m *PipelineMetrics) DetectionStored() {
	if m == nil {
		return
	}
	m.DetectionsStored.Inc()
}

// StorageFailed counts a failed write; kind is "detection", "alert" or "snapshot".
func (m *PipelineMetrics) StorageFailed(kind string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) AlertRaised(severity string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(severity).Inc()
}

func (m *PipelineMetrics) AlertSuppressed() {
	if m == nil {
		return
	}
	m.AlertsSuppressed.Inc()
}

func (m *PipelineMetrics) AlertDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}

func (m *PipelineMetrics) StreamStarted(source string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(source).Inc()
}

func (m *PipelineMetrics) StreamEnded(source string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(source).Dec()
}

func (m *PipelineMetrics) SetOpenHandles(n int) {
	if m == nil {
		return
	}
	m.OpenHandles.Set(float64(n))
}

func (m *PipelineMetrics) OpenFailed() {
	if m == nil {
		return
	}
	m.OpenFailures.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesProcessed.Describe(ch)
	ch <- m.FramesSkipped.Desc()
	ch <- m.InferenceDuration.Desc()
	ch <- m.DetectionsStored.Desc()
	m.StorageFailures.Describe(ch)
	m.AlertsRaised.Describe(ch)
	ch <- m.AlertsSuppressed.Desc()
	ch <- m.AlertsDropped.Desc()
	m.ActiveStreams.Describe(ch)
	ch <- m.OpenHandles.Desc()
	ch <- m.OpenFailures.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesProcessed.Collect(ch)
	ch <- m.FramesSkipped
	ch <- m.InferenceDuration
	ch <- m.DetectionsStored
	m.StorageFailures.Collect(ch)
	m.AlertsRaised.Collect(ch)
	ch <- m.AlertsSuppressed
	ch <- m.AlertsDropped
	m.ActiveStreams.Collect(ch)
	ch <- m.OpenHandles
	ch <- m.OpenFailures
}
