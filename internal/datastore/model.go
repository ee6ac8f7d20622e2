// model.go defines the relational records written by the pipeline
package datastore

import "time"

// Camera is a configured logical camera.
type Camera struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PhysicalID int       `gorm:"uniqueIndex;not null" json:"physical_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Zone       string    `gorm:"size:100;not null" json:"zone"`
	Status     string    `gorm:"size:20;default:active" json:"status"`
	Resolution string    `gorm:"size:20;default:1280x720" json:"resolution"`
	CreatedAt  time.Time `json:"created_at"`
}

// ItemType is one entry of the protective-item catalog.
type ItemType struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:50;uniqueIndex;not null" json:"name"`
	Description string `gorm:"size:200" json:"description"`
	ColorHex    string `gorm:"size:7" json:"color_hex"`
	Required    bool   `gorm:"default:true" json:"required"`
}

// Detection is a stored sampling checkpoint. Never updated after creation.
type Detection struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CameraID     uint            `gorm:"index;not null" json:"camera_id"`
	Timestamp    time.Time       `gorm:"index;not null" json:"timestamp"`
	State        string          `gorm:"size:1;not null" json:"state"` // C, I or N
	Observation  string          `gorm:"type:text" json:"observation"`
	SnapshotPath string          `gorm:"size:500" json:"snapshot_path,omitempty"`
	Items        []DetectionItem `gorm:"foreignKey:DetectionID;constraint:OnDelete:CASCADE" json:"items"`
}

// DetectionItem is one per-item record of a Detection.
type DetectionItem struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	DetectionID uint    `gorm:"index;not null" json:"detection_id"`
	ItemTypeID  uint    `gorm:"index;not null" json:"item_type_id"`
	Detected    bool    `json:"detected"`
	Confidence  float64 `json:"confidence"`
	Correct     bool    `json:"correct"`
	BBoxX       int     `json:"bbox_x"`
	BBoxY       int     `json:"bbox_y"`
	BBoxWidth   int     `json:"bbox_width"`
	BBoxHeight  int     `json:"bbox_height"`
}

// Alert is raised for a non-compliant Detection. Review fields belong to the
// reviewer workflow.
type Alert struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	DetectionID uint       `gorm:"index;not null" json:"detection_id"`
	CameraID    uint       `gorm:"index;not null" json:"camera_id"`
	Timestamp   time.Time  `gorm:"index;not null" json:"timestamp"`
	Type        string     `gorm:"size:50;not null" json:"type"`
	Severity    string     `gorm:"size:10;default:medium" json:"severity"`
	Message     string     `gorm:"size:500" json:"message"`
	Status      string     `gorm:"size:20;index;default:pending" json:"status"`
	ReviewedBy  string     `gorm:"size:100" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `gorm:"type:text" json:"review_notes,omitempty"`
}

// SystemEvent is an operational log entry (camera opened, open failed...).
type SystemEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Type      string    `gorm:"size:50" json:"type"`
	Level     string    `gorm:"size:10;default:info" json:"level"` // info, warning, error, critical
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
}

// AlertView is an Alert joined with its camera and detection.
type AlertView struct {
	ID           uint      `json:"id"`
	DetectionID  uint      `json:"detection_id"`
	CameraID     uint      `json:"camera_id"`
	CameraName   string    `json:"camera_name"`
	Zone         string    `json:"zone"`
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
}

// AllModels lists every migrated model.
func AllModels() []any {
	return []any{&Camera{}, &ItemType{}, &Detection{}, &DetectionItem{}, &Alert{}, &SystemEvent{}}
}
