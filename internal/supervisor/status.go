package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/mqttclient"
)

// RunStatusLoop publishes camera and collector status every StatusInterval
// until ctx is done. It returns immediately without a publisher.
func (s *Supervisor) RunStatusLoop(ctx context.Context) {
	if s.d.Publisher == nil || s.cfg.StatusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	log.Printf("[supervisor] status loop started (interval=%s)", s.cfg.StatusInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[supervisor] status loop stopped")
			return
		case t := <-ticker.C:
			s.publishStatuses(ctx, t)
		}
	}
}

type processStats struct {
	CPUPercent  float64
	MemPercent  float64
	MemRSSBytes uint64
}

func (s *Supervisor) processStats() processStats {
	var ps processStats
	if s.proc == nil {
		return ps
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		ps.MemRSSBytes = mem.RSS
	}
	if memP, err := s.proc.MemoryPercent(); err == nil {
		ps.MemPercent = float64(memP)
	}
	return ps
}

// publishStatuses publishes one round of statuses. Each publish is bounded by
// the client's publish timeout; the round stops early once ctx is done.
func (s *Supervisor) publishStatuses(ctx context.Context, now time.Time) {
	health := s.d.Manager.Health()
	for _, hh := range health {
		if ctx.Err() != nil {
			return
		}
		if err := s.publishCameraStatus(hh, now); err != nil {
			log.Printf("[status] camera %d: %v", hh.CameraID, err)
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := s.publishCollectorStatus(len(health), s.processStats(), now); err != nil {
		log.Printf("[status] collector: %v", err)
	}
}

func (s *Supervisor) publishCameraStatus(hh capture.HandleHealth, now time.Time) error {
	payload := map[string]any{
		"camera_id":      hh.CameraID,
		"physical_id":    hh.PhysicalID,
		"status":         string(hh.State),
		"resolution":     hh.Resolution,
		"frames_read":    hh.FramesRead,
		"opened_at":      hh.OpenedAt.UTC().Format(time.RFC3339),
		"active_streams": s.ActiveStreams(hh.CameraID),
		"timestamp":      now.UTC().Format(time.RFC3339),
	}
	if !hh.LastFrameAt.IsZero() {
		payload["last_frame_at"] = hh.LastFrameAt.UTC().Format(time.RFC3339)
	}
	if hh.LastError != "" {
		payload["last_error"] = hh.LastError
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal camera status: %w", err)
	}
	topic := mqttclient.Topic(s.cfg.BaseTopic, fmt.Sprint(hh.CameraID), "status")
	if err := s.d.Publisher.Publish(topic, 1, true, b); err != nil {
		return fmt.Errorf("publish camera status to %s: %w", topic, err)
	}
	return nil
}

func (s *Supervisor) publishCollectorStatus(cameras int, ps processStats, now time.Time) error {
	payload := map[string]any{
		"collector":        "ppe-watch",
		"status":           "online",
		"timestamp":        now.UTC().Format(time.RFC3339),
		"hostname":         s.hostname,
		"cameras":          cameras,
		"cpu_percent":      ps.CPUPercent,
		"memory_percent":   ps.MemPercent,
		"memory_rss_bytes": ps.MemRSSBytes,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal collector status: %w", err)
	}
	topic := mqttclient.Topic(s.cfg.BaseTopic, "collector", "status")
	if err := s.d.Publisher.Publish(topic, 1, true, b); err != nil {
		return fmt.Errorf("publish collector status to %s: %w", topic, err)
	}
	log.Printf("[status] collector online -> %s", topic)
	return nil
}
