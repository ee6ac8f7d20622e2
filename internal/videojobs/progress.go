package videojobs

import (
	"context"
	"log"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/detection"
	"github.com/sua-org/ppe-watch/internal/stream"
)

// progress updates one run's job stats. Only the run holding the current
// token may write.
type progress struct {
	job   *job
	token uint64
}

func (p *progress) Observe(_ context.Context, obs stream.Observation) error {
	j := p.job
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.deleted || j.run != p.token {
		log.Printf("[videojobs] job %s: run %d no longer current, stopping", j.v.ID, p.token)
		return errJobGone
	}

	j.v.Stats.FramesProcessed++
	if obs.Compliance != nil {
		j.v.Stats.TotalDetections += uint64(len(obs.Detections))
		j.v.Stats.CurrentPersonCount = detection.CountPersons(obs.Detections)
		if obs.Compliance.State != core.StateCorrect {
			j.v.Stats.NonCompliantFrames++
		}
	}
	return nil
}

func (p *progress) StreamEnded(reason stream.EndReason) {
	j := p.job
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.deleted || j.run != p.token {
		return
	}
	if reason == stream.EndEOF {
		j.v.Status = core.JobFinished
		log.Printf("[videojobs] job %s: finished, %d frame(s), %d non-compliant", j.v.ID, j.v.Stats.FramesProcessed, j.v.Stats.NonCompliantFrames)
		return
	}
	log.Printf("[videojobs] job %s: run %d ended (%s) after %d frame(s)", j.v.ID, p.token, reason, j.v.Stats.FramesProcessed)
}
