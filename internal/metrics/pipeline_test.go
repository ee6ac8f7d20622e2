package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	m.FrameProcessed("camera")
	m.FrameProcessed("camera")
	m.FrameSkipped()
	m.AlertRaised("critical")
	m.AlertSuppressed()
	m.StorageFailed("snapshot")
	m.ObserveInference(20 * time.Millisecond)
	m.SetOpenHandles(2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FramesProcessed.WithLabelValues("camera")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FramesSkipped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AlertsRaised.WithLabelValues("critical")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.StorageFailures.WithLabelValues("snapshot")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.OpenHandles), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPipelineMetricsDoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(reg)
	require.NoError(t, err)
	_, err = NewPipelineMetrics(reg)
	assert.Error(t, err)
}

func TestNilPipelineMetricsIsSafe(t *testing.T) {
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.FrameProcessed("video")
		m.FrameSkipped()
		m.ObserveInference(time.Second)
		m.DetectionStored()
		m.StorageFailed("alert")
		m.AlertRaised("high")
		m.AlertSuppressed()
		m.AlertDropped()
		m.StreamStarted("video")
		m.StreamEnded("video")
		m.SetOpenHandles(1)
		m.OpenFailed()
	})
}
