package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/ppe-watch/internal/core"
)

func TestPrintAlert(t *testing.T) {
	payload, err := json.Marshal(core.AlertEvent{
		AlertID:      3,
		CameraID:     2,
		Timestamp:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Type:         "missing_helmet",
		Severity:     core.SeverityHigh,
		Message:      "Incorrect PPE: missing helmet",
		Score:        80,
		SnapshotPath: "static/snapshots/cam2.jpg",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	printAlert(&buf, "ppe/2/alerts", payload)

	out := buf.String()
	assert.Contains(t, out, "cam=2")
	assert.Contains(t, out, "HIGH")
	assert.Contains(t, out, "missing_helmet")
	assert.Contains(t, out, "score= 80%")
	assert.Contains(t, out, "[static/snapshots/cam2.jpg]")
}

func TestPrintAlertOtherPayloads(t *testing.T) {
	var buf bytes.Buffer
	printAlert(&buf, "ppe/collector/status", []byte(`{"status":"online"}`))
	assert.Contains(t, buf.String(), `"status": "online"`)

	buf.Reset()
	printAlert(&buf, "ppe/1/alerts", []byte("hello"))
	assert.Equal(t, "ppe/1/alerts (not JSON) hello\n", buf.String())
}
