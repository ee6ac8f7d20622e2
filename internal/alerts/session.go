package alerts

import (
	"context"
	"log"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/stream"
)

// Session samples the frames of one camera stream and hands non-compliant
// checkpoints to the coordinator.
type Session struct {
	c        *Coordinator
	cameraID uint

	checkpoints int
	alerts      int
}

func (c *Coordinator) Session(cameraID uint) *Session {
	return &Session{c: c, cameraID: cameraID}
}

// Observe never fails: storage problems are logged by the coordinator and
// the stream goes on.
func (s *Session) Observe(ctx context.Context, obs stream.Observation) error {
	if obs.Compliance == nil {
		return nil
	}
	if obs.Seq%uint64(s.c.cfg.SampleEvery) != 0 {
		return nil
	}
	if obs.Compliance.State == core.StateCorrect {
		return nil
	}
	s.checkpoints++
	res := s.c.Checkpoint(ctx, s.cameraID, obs.Detections, *obs.Compliance, obs.JPEG)
	if res.AlertID != 0 {
		s.alerts++
	}
	return nil
}

func (s *Session) StreamEnded(reason stream.EndReason) {
	log.Printf("[alerts] camera %d stream %s: %d checkpoint(s), %d alert(s)", s.cameraID, reason, s.checkpoints, s.alerts)
}

// Checkpoints is the number of non-compliant sampled frames seen.
func (s *Session) Checkpoints() int { return s.checkpoints }
