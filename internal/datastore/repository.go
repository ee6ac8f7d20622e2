package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sua-org/ppe-watch/internal/core"
)

// ListCameras returns every configured camera ordered by id.
func (s *Store) ListCameras(ctx context.Context) ([]Camera, error) {
	var cams []Camera
	if err := s.db.WithContext(ctx).Order("id").Find(&cams).Error; err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return cams, nil
}

func (s *Store) GetCamera(ctx context.Context, id uint) (Camera, error) {
	var cam Camera
	err := s.db.WithContext(ctx).First(&cam, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Camera{}, fmt.Errorf("camera %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return Camera{}, fmt.Errorf("get camera %d: %w", id, err)
	}
	return cam, nil
}

// CreateCamera inserts cam and fills its id. A physical id already used by
// another camera is a validation error.
func (s *Store) CreateCamera(ctx context.Context, cam *Camera) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Camera{}).Where("physical_id = ?", cam.PhysicalID).Count(&n).Error; err != nil {
		return fmt.Errorf("check physical id: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("physical camera %d already configured: %w", cam.PhysicalID, core.ErrValidationFailed)
	}
	if cam.Status == "" {
		cam.Status = string(core.CameraActive)
	}
	if cam.Resolution == "" {
		cam.Resolution = core.DefaultResolution
	}
	err := s.db.WithContext(ctx).Create(cam).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("physical camera %d already configured: %w", cam.PhysicalID, core.ErrValidationFailed)
	}
	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}
	return nil
}

// UpdateCamera renames or rezones a camera. Empty values are left unchanged.
func (s *Store) UpdateCamera(ctx context.Context, id uint, name, zone string) (Camera, error) {
	cam, err := s.GetCamera(ctx, id)
	if err != nil {
		return Camera{}, err
	}
	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if zone != "" {
		updates["zone"] = zone
	}
	if len(updates) == 0 {
		return cam, nil
	}
	if err := s.db.WithContext(ctx).Model(&cam).Updates(updates).Error; err != nil {
		return Camera{}, fmt.Errorf("update camera %d: %w", id, err)
	}
	return s.GetCamera(ctx, id)
}

func (s *Store) SetCameraStatus(ctx context.Context, id uint, status core.CameraStatus) error {
	res := s.db.WithContext(ctx).Model(&Camera{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("set camera %d status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("camera %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteCamera(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&Camera{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete camera %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("camera %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// ItemTypeIDs maps item-type names to their row ids.
func (s *Store) ItemTypeIDs(ctx context.Context) (map[string]uint, error) {
	var types []ItemType
	if err := s.db.WithContext(ctx).Find(&types).Error; err != nil {
		return nil, fmt.Errorf("list item types: %w", err)
	}
	out := make(map[string]uint, len(types))
	for _, t := range types {
		out[t.Name] = t.ID
	}
	return out, nil
}

// CreateDetection stores d and its items in one transaction.
func (s *Store) CreateDetection(ctx context.Context, d *Detection) (uint, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(d).Error
	})
	if err != nil {
		return 0, fmt.Errorf("create detection: %w", err)
	}
	return d.ID, nil
}

func (s *Store) GetDetection(ctx context.Context, id uint) (Detection, error) {
	var d Detection
	err := s.db.WithContext(ctx).Preload("Items").First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Detection{}, fmt.Errorf("detection %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return Detection{}, fmt.Errorf("get detection %d: %w", id, err)
	}
	return d, nil
}

func (s *Store) CreateAlert(ctx context.Context, a *Alert) (uint, error) {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return 0, fmt.Errorf("create alert: %w", err)
	}
	return a.ID, nil
}

// AlertFilter narrows ListAlerts. Zero fields do not filter.
type AlertFilter struct {
	CameraID uint
	Status   string
	Severity string
	Since    time.Time
	Until    time.Time
	Limit    int
}

const defaultAlertLimit = 10

// ListAlerts returns the newest alerts first, joined with their camera.
// Alerts of deleted cameras report the camera as "Unknown".
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]AlertView, error) {
	type row struct {
		Alert
		CameraName   *string
		Zone         *string
		SnapshotPath *string
	}

	q := s.db.WithContext(ctx).
		Table("alerts").
		Select("alerts.*, cameras.name AS camera_name, cameras.zone AS zone, detections.snapshot_path AS snapshot_path").
		Joins("LEFT JOIN cameras ON cameras.id = alerts.camera_id").
		Joins("LEFT JOIN detections ON detections.id = alerts.detection_id")
	if f.CameraID != 0 {
		q = q.Where("alerts.camera_id = ?", f.CameraID)
	}
	if f.Status != "" {
		q = q.Where("alerts.status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("alerts.severity = ?", f.Severity)
	}
	if !f.Since.IsZero() {
		q = q.Where("alerts.timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("alerts.timestamp < ?", f.Until)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}

	var rows []row
	if err := q.Order("alerts.timestamp DESC, alerts.id DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	out := make([]AlertView, 0, len(rows))
	for _, r := range rows {
		v := AlertView{
			ID:          r.ID,
			DetectionID: r.DetectionID,
			CameraID:    r.CameraID,
			CameraName:  "Unknown",
			Timestamp:   r.Timestamp,
			Type:        r.Type,
			Severity:    r.Severity,
			Message:     r.Message,
			Status:      r.Status,
		}
		if r.CameraName != nil {
			v.CameraName = *r.CameraName
		}
		if r.Zone != nil {
			v.Zone = *r.Zone
		}
		if r.SnapshotPath != nil {
			v.SnapshotPath = *r.SnapshotPath
		}
		out = append(out, v)
	}
	return out, nil
}

// CountAlerts counts alerts with the given status; empty counts all.
func (s *Store) CountAlerts(ctx context.Context, status string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Alert{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

// RecordEvent appends a system event, stamping it when Timestamp is zero.
func (s *Store) RecordEvent(ctx context.Context, ev SystemEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Level == "" {
		ev.Level = "info"
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListEvents returns the newest system events first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]SystemEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var evs []SystemEvent
	if err := s.db.WithContext(ctx).Order("timestamp DESC, id DESC").Limit(limit).Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return evs, nil
}
