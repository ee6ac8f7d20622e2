// internal/core/types.go
package core

import "time"

// CameraStatus is the configured state of a logical camera.
type CameraStatus string

const (
	CameraActive   CameraStatus = "active"
	CameraInactive CameraStatus = "inactive"
	CameraError    CameraStatus = "error"
)

// DefaultResolution is the acquisition resolution applied to every device.
const DefaultResolution = "1280x720"

// LogicalCamera is the user-facing camera identity. One logical camera maps to
// exactly one physical device index.
type LogicalCamera struct {
	ID         uint         `json:"id"`
	PhysicalID int          `json:"physical_id"`
	Name       string       `json:"name"`
	Zone       string       `json:"zone"`
	Status     CameraStatus `json:"status"`
	Resolution string       `json:"resolution"`
}

// Frame is a decoded image. Whoever receives a Frame owns it and must Close it.
type Frame interface {
	Width() int
	Height() int
	Close() error
}

// ItemType is the canonical name of a protective item (or "person").
type ItemType string

const (
	ItemHelmet  ItemType = "helmet"
	ItemVest    ItemType = "vest"
	ItemGloves  ItemType = "gloves"
	ItemBoots   ItemType = "boots"
	ItemGoggles ItemType = "goggles"
	ItemMask    ItemType = "mask"
	ItemPerson  ItemType = "person"
)

// BBox is an axis-aligned box in pixel coordinates.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width of the box, never negative.
func (b BBox) Width() int {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height of the box, never negative.
func (b BBox) Height() int {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// ItemDetection is one scored box for one frame.
type ItemDetection struct {
	BBox       BBox     `json:"bbox"`
	Confidence float64  `json:"confidence"`
	RawClass   string   `json:"class"`
	Present    bool     `json:"present"`
	ItemType   ItemType `json:"item_type"`
}

// ComplianceState is the three-way classification of one evaluated frame.
// Values match the codes stored in the detections table.
type ComplianceState string

const (
	StateCorrect    ComplianceState = "C"
	StateIncomplete ComplianceState = "I"
	StateNoUse      ComplianceState = "N"
)

func (s ComplianceState) String() string {
	switch s {
	case StateCorrect:
		return "correct"
	case StateIncomplete:
		return "incomplete"
	case StateNoUse:
		return "no_use"
	default:
		return string(s)
	}
}

// ComplianceResult is derived from the detections of one frame.
type ComplianceResult struct {
	State      ComplianceState   `json:"state"`
	Score      float64           `json:"score"`
	ItemStatus map[ItemType]bool `json:"item_status"`
	Missing    []ItemType        `json:"missing,omitempty"`
	Message    string            `json:"message"`
}

// Compliant reports whether every required item was present.
func (c ComplianceResult) Compliant() bool { return c.State == StateCorrect }

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertStatus is mutated by the reviewer workflow after creation.
type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertReviewed  AlertStatus = "reviewed"
	AlertResolved  AlertStatus = "resolved"
	AlertDismissed AlertStatus = "dismissed"
)

// AlertEvent is what gets fanned out (MQTT) when an alert is created.
type AlertEvent struct {
	AlertID     uint      `json:"alert_id"`
	DetectionID uint      `json:"detection_id"`
	CameraID    uint      `json:"camera_id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Score       float64   `json:"score"`

	// Relative path or public URL of the stored snapshot, when there is one.
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// JobStatus is the lifecycle of an uploaded video.
type JobStatus string

const (
	JobUploaded   JobStatus = "uploaded"
	JobProcessing JobStatus = "processing"
	JobFinished   JobStatus = "finished"
	JobDeleted    JobStatus = "deleted"
)

// JobStats is mutated only by the active processing stream of its job.
type JobStats struct {
	FramesProcessed    uint64 `json:"frames_processed"`
	TotalDetections    uint64 `json:"total_detections"`
	CurrentPersonCount int    `json:"current_person_count"`
	NonCompliantFrames uint64 `json:"non_compliant_frames"`
}

// VideoJob is an uploaded video file and its offline processing progress.
type VideoJob struct {
	ID          string    `json:"id"`
	SourcePath  string    `json:"-"`
	Filename    string    `json:"filename"`
	TotalFrames int       `json:"total_frames"`
	FPS         float64   `json:"fps"`
	DurationSec float64   `json:"duration_sec"`
	Resolution  string    `json:"resolution"`
	Stats       JobStats  `json:"stats"`
	Status      JobStatus `json:"status"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
