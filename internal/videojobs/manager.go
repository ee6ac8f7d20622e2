// Package videojobs manages uploaded videos and their offline processing.
package videojobs

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/metrics"
	"github.com/sua-org/ppe-watch/internal/stream"
)

// DefaultExtensions are the accepted upload extensions.
var DefaultExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// errJobGone stops a processing stream whose job was deleted or re-run.
var errJobGone = errors.New("video job deleted or superseded")

type Config struct {
	UploadDir  string
	Extensions []string
	// Pace is the delay between emitted frames, about 1/30 s.
	Pace    time.Duration
	Quality int
}

type Manager struct {
	files   capture.FileOpener
	engines stream.EngineProvider
	encoder stream.Encoder
	metrics *metrics.PipelineMetrics
	cfg     Config
	allowed map[string]bool
	newID   func() string
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	mu      sync.Mutex
	v       core.VideoJob
	run     uint64
	deleted bool
}

func NewManager(files capture.FileOpener, engines stream.EngineProvider, encoder stream.Encoder, cfg Config, m *metrics.PipelineMetrics) *Manager {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}
	return &Manager{
		files:   files,
		engines: engines,
		encoder: encoder,
		metrics: m,
		cfg:     cfg,
		allowed: allowed,
		newID:   uuid.NewString,
		now:     time.Now,
		jobs:    make(map[string]*job),
	}
}

// Upload stores the file and reads its metadata. The extension is checked
// before anything is written or opened.
func (m *Manager) Upload(filename string, r io.Reader) (core.VideoJob, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !m.allowed[ext] {
		return core.VideoJob{}, fmt.Errorf("file %q: extension %q not allowed: %w", filename, ext, core.ErrValidationFailed)
	}

	if err := os.MkdirAll(m.cfg.UploadDir, 0o755); err != nil {
		return core.VideoJob{}, fmt.Errorf("create upload dir: %w", err)
	}
	id := m.newID()
	path := filepath.Join(m.cfg.UploadDir, id+ext)
	if err := writeFile(path, r); err != nil {
		return core.VideoJob{}, err
	}

	src, err := m.files.OpenFile(path)
	if err != nil {
		_ = os.Remove(path)
		return core.VideoJob{}, fmt.Errorf("file %q is not a readable video: %w: %v", filename, core.ErrValidationFailed, err)
	}
	info := src.Info()
	if err := src.Close(); err != nil {
		log.Printf("[videojobs] close probe of %s: %v", path, err)
	}

	j := &job{v: core.VideoJob{
		ID:          id,
		SourcePath:  path,
		Filename:    filepath.Base(filename),
		TotalFrames: info.TotalFrames,
		FPS:         info.FPS,
		DurationSec: info.DurationSec(),
		Resolution:  info.Resolution(),
		Status:      core.JobUploaded,
		UploadedAt:  m.now(),
	}}

	m.mu.Lock()
	m.jobs[id] = j
	m.mu.Unlock()

	log.Printf("[videojobs] job %s: uploaded %s (%d frames, %.1f fps, %s)", id, j.v.Filename, info.TotalFrames, info.FPS, j.v.Resolution)
	return j.snapshot(), nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (m *Manager) lookup(id string) (*job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("video job %s: %w", id, core.ErrNotFound)
	}
	return j, nil
}

// Process opens the job's file and returns a stream over it. Stats are reset
// and updated as the stream is consumed; reaching the end of the file
// finishes the job. Starting a new run stops any earlier one.
func (m *Manager) Process(id string, detect bool) (*stream.Stream, error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	if j.deleted {
		j.mu.Unlock()
		return nil, fmt.Errorf("video job %s: %w", id, core.ErrNotFound)
	}
	path := j.v.SourcePath
	j.mu.Unlock()

	src, err := m.files.OpenFile(path)
	if err != nil {
		log.Printf("[videojobs] job %s: open %s: %v", id, path, err)
		return nil, fmt.Errorf("video job %s: %w: %v", id, core.ErrOpenFailed, err)
	}

	j.mu.Lock()
	if j.deleted {
		j.mu.Unlock()
		src.Close()
		return nil, fmt.Errorf("video job %s: %w", id, core.ErrNotFound)
	}
	j.run++
	token := j.run
	j.v.Stats = core.JobStats{}
	j.v.Status = core.JobProcessing
	total := j.v.TotalFrames
	j.mu.Unlock()

	log.Printf("[videojobs] job %s: processing run %d", id, token)
	return stream.New(stream.Options{
		Reader:    src,
		Kind:      "video",
		Detect:    detect,
		Engines:   m.engines,
		Encoder:   m.encoder,
		Quality:   m.cfg.Quality,
		MaxFrames: total,
		Pace:      m.cfg.Pace,
		Observer:  &progress{job: j, token: token},
		Metrics:   m.metrics,
		OnClose: func() {
			if err := src.Close(); err != nil {
				log.Printf("[videojobs] job %s: close source: %v", id, err)
			}
		},
	}), nil
}

// Get returns a copy of the job.
func (m *Manager) Get(id string) (core.VideoJob, error) {
	j, err := m.lookup(id)
	if err != nil {
		return core.VideoJob{}, err
	}
	return j.snapshot(), nil
}

// Stats returns a consistent copy of the job's progress counters.
func (m *Manager) Stats(id string) (core.JobStats, error) {
	j, err := m.lookup(id)
	if err != nil {
		return core.JobStats{}, err
	}
	return j.snapshot().Stats, nil
}

// List returns every job, oldest upload first.
func (m *Manager) List() []core.VideoJob {
	m.mu.Lock()
	js := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		js = append(js, j)
	}
	m.mu.Unlock()

	out := make([]core.VideoJob, 0, len(js))
	for _, j := range js {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].UploadedAt.Equal(out[k].UploadedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].UploadedAt.Before(out[k].UploadedAt)
	})
	return out
}

// Delete removes the job and its file. It does not wait for a running stream;
// that stream stops on its next frame.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("video job %s: %w", id, core.ErrNotFound)
	}

	j.mu.Lock()
	j.deleted = true
	j.v.Status = core.JobDeleted
	path := j.v.SourcePath
	j.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[videojobs] job %s: remove %s: %v", id, path, err)
	}
	log.Printf("[videojobs] job %s: deleted", id)
	return nil
}

func (j *job) snapshot() core.VideoJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.v
}
