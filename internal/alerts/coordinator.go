// Package alerts decides which frames are stored and which raise alerts.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
	"github.com/sua-org/ppe-watch/internal/detection"
	"github.com/sua-org/ppe-watch/internal/metrics"
	"github.com/sua-org/ppe-watch/internal/mqttclient"
	"github.com/sua-org/ppe-watch/internal/storage"
)

// Store is the subset of the datastore the coordinator writes to.
type Store interface {
	ItemTypeIDs(ctx context.Context) (map[string]uint, error)
	CreateDetection(ctx context.Context, d *datastore.Detection) (uint, error)
	CreateAlert(ctx context.Context, a *datastore.Alert) (uint, error)
}

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Config struct {
	// SampleEvery: only every n-th processed frame is a checkpoint.
	SampleEvery int
	// Throttle is the minimum time between two alerts of one camera.
	Throttle time.Duration
	// PersistSuppressed stores checkpoints that fall inside the throttle
	// window, without an alert.
	PersistSuppressed bool
	// BaseTopic prefixes the MQTT alert topic: <base>/<cameraId>/alerts.
	BaseTopic string
	// Outbox is how many alert events may wait for the publisher. Events
	// raised while it is full are dropped.
	Outbox int
}

func DefaultConfig() Config {
	return Config{
		SampleEvery:       30,
		Throttle:          5 * time.Second,
		PersistSuppressed: true,
		BaseTopic:         "ppe",
		Outbox:            64,
	}
}

// Coordinator persists detections and raises throttled alerts. Throttle state
// is kept per camera for the life of the process, so a reconnecting stream
// does not reopen the window.
type Coordinator struct {
	store     Store
	snapshots storage.SnapshotStore
	publisher Publisher
	metrics   *metrics.PipelineMetrics
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	limiters map[uint]*rate.Limiter
	itemIDs  map[string]uint

	outbox    chan core.AlertEvent
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a coordinator. publisher may be nil when MQTT is disabled;
// otherwise alert events are published from a background goroutine that
// Close stops.
func New(store Store, snapshots storage.SnapshotStore, publisher Publisher, cfg Config, m *metrics.PipelineMetrics) *Coordinator {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 1
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = 64
	}
	c := &Coordinator{
		store:     store,
		snapshots: snapshots,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		limiters:  make(map[uint]*rate.Limiter),
	}
	if publisher != nil {
		c.outbox = make(chan core.AlertEvent, cfg.Outbox)
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.publishLoop()
	}
	return c
}

// Close stops the publishing goroutine. Events still queued are dropped.
// It waits for a publish in progress to return.
func (c *Coordinator) Close() {
	if c.outbox == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		if n := len(c.outbox); n > 0 {
			log.Printf("[alerts] closing with %d unpublished alert event(s)", n)
		}
	})
}

// SnapshotKey names the snapshot of a camera at ts.
func SnapshotKey(cameraID uint, ts time.Time) string {
	return fmt.Sprintf("cam%d_%s_%03d.jpg", cameraID, ts.Format("20060102_150405"), ts.Nanosecond()/int(time.Millisecond))
}

// Persist writes a detection record. When jpeg is supplied and the result is
// not compliant, the snapshot is written first and its path recorded. Failures
// are logged and reported as ok=false; they never reach the stream.
func (c *Coordinator) Persist(ctx context.Context, cameraID uint, dets []core.ItemDetection, res core.ComplianceResult, jpeg []byte) (uint, bool) {
	id, _, ok := c.persist(ctx, cameraID, dets, res, jpeg)
	return id, ok
}

func (c *Coordinator) persist(ctx context.Context, cameraID uint, dets []core.ItemDetection, res core.ComplianceResult, jpeg []byte) (uint, string, bool) {
	ts := c.now()

	var snapshotPath string
	if jpeg != nil && res.State != core.StateCorrect {
		path, err := c.snapshots.SaveSnapshot(ctx, SnapshotKey(cameraID, ts), jpeg, "image/jpeg")
		if err != nil {
			c.metrics.StorageFailed("snapshot")
			log.Printf("[alerts] camera %d: %v: snapshot: %v", cameraID, core.ErrStorageFailed, err)
			return 0, "", false
		}
		snapshotPath = path
	}

	items, err := c.itemRecords(ctx, dets)
	if err != nil {
		c.metrics.StorageFailed("detection")
		log.Printf("[alerts] camera %d: %v: %v", cameraID, core.ErrStorageFailed, err)
		return 0, "", false
	}

	d := &datastore.Detection{
		CameraID:     cameraID,
		Timestamp:    ts,
		State:        string(res.State),
		Observation:  res.Message,
		SnapshotPath: snapshotPath,
		Items:        items,
	}
	id, err := c.store.CreateDetection(ctx, d)
	if err != nil {
		c.metrics.StorageFailed("detection")
		log.Printf("[alerts] camera %d: %v: %v", cameraID, core.ErrStorageFailed, err)
		return 0, "", false
	}
	c.metrics.DetectionStored()
	return id, snapshotPath, true
}

// itemRecords builds one record per detection of each catalog item, or a
// single not-detected record for items with no detection.
func (c *Coordinator) itemRecords(ctx context.Context, dets []core.ItemDetection) ([]datastore.DetectionItem, error) {
	ids, err := c.itemTypeIDs(ctx)
	if err != nil {
		return nil, err
	}

	var items []datastore.DetectionItem
	for _, t := range detection.Catalog {
		typeID, ok := ids[string(t)]
		if !ok {
			continue
		}
		found := false
		for _, d := range dets {
			if d.ItemType != t {
				continue
			}
			found = true
			items = append(items, datastore.DetectionItem{
				ItemTypeID: typeID,
				Detected:   d.Present,
				Confidence: d.Confidence,
				Correct:    d.Present,
				BBoxX:      d.BBox.X1,
				BBoxY:      d.BBox.Y1,
				BBoxWidth:  d.BBox.Width(),
				BBoxHeight: d.BBox.Height(),
			})
		}
		if !found {
			items = append(items, datastore.DetectionItem{ItemTypeID: typeID})
		}
	}
	return items, nil
}

// itemTypeIDs loads the catalog ids once. A failed or empty load is retried
// on the next call, so seeding the catalog later takes effect.
func (c *Coordinator) itemTypeIDs(ctx context.Context) (map[string]uint, error) {
	c.mu.Lock()
	ids := c.itemIDs
	c.mu.Unlock()
	if ids != nil {
		return ids, nil
	}

	ids, err := c.store.ItemTypeIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load item types: %w", err)
	}
	if len(ids) == 0 {
		log.Printf("[alerts] item type catalog is empty, detections are stored without item records (run initdb)")
		return ids, nil
	}
	c.mu.Lock()
	c.itemIDs = ids
	c.mu.Unlock()
	return ids, nil
}

// Alert creates an alert for a stored detection. Compliant results never
// raise one. No throttling happens here; see Checkpoint.
func (c *Coordinator) Alert(ctx context.Context, cameraID, detectionID uint, res core.ComplianceResult) (uint, bool) {
	return c.raise(ctx, cameraID, detectionID, res, "")
}

func (c *Coordinator) raise(ctx context.Context, cameraID, detectionID uint, res core.ComplianceResult, snapshotPath string) (uint, bool) {
	if res.State == core.StateCorrect {
		return 0, false
	}
	typ, sev, msg := Classify(res)
	ts := c.now()

	a := &datastore.Alert{
		DetectionID: detectionID,
		CameraID:    cameraID,
		Timestamp:   ts,
		Type:        typ,
		Severity:    string(sev),
		Message:     msg,
		Status:      string(core.AlertPending),
	}
	id, err := c.store.CreateAlert(ctx, a)
	if err != nil {
		c.metrics.StorageFailed("alert")
		log.Printf("[alerts] camera %d: %v: alert: %v", cameraID, core.ErrStorageFailed, err)
		return 0, false
	}
	c.metrics.AlertRaised(string(sev))
	log.Printf("[alerts] %s alert %d: %s (camera %d)", sev, id, msg, cameraID)

	c.publish(core.AlertEvent{
		AlertID:      id,
		DetectionID:  detectionID,
		CameraID:     cameraID,
		Timestamp:    ts,
		Type:         typ,
		Severity:     sev,
		Message:      msg,
		Score:        res.Score,
		SnapshotPath: snapshotPath,
	})
	return id, true
}

// publish queues ev for the publishing goroutine and never blocks the caller.
func (c *Coordinator) publish(ev core.AlertEvent) {
	if c.outbox == nil {
		return
	}
	select {
	case <-c.stop:
		return
	default:
	}
	select {
	case c.outbox <- ev:
	default:
		c.metrics.AlertDropped()
		log.Printf("[alerts] outbox full, alert %d (camera %d) not published", ev.AlertID, ev.CameraID)
	}
}

func (c *Coordinator) publishLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.outbox:
			c.send(ev)
		}
	}
}

func (c *Coordinator) send(ev core.AlertEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[alerts] marshal alert %d: %v", ev.AlertID, err)
		return
	}
	topic := mqttclient.Topic(c.cfg.BaseTopic, strconv.FormatUint(uint64(ev.CameraID), 10), "alerts")
	if err := c.publisher.Publish(topic, 1, false, payload); err != nil {
		log.Printf("[alerts] publish %s: %v", topic, err)
	}
}

func (c *Coordinator) limiter(cameraID uint) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[cameraID]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.cfg.Throttle), 1)
		c.limiters[cameraID] = l
	}
	return l
}

// CheckpointResult reports what a checkpoint did.
type CheckpointResult struct {
	DetectionID uint
	AlertID     uint
	Suppressed  bool
}

// Checkpoint handles one sampled non-compliant frame: persist it and raise
// an alert unless the camera alerted within the throttle window. The window
// is only consumed by a checkpoint that was stored.
func (c *Coordinator) Checkpoint(ctx context.Context, cameraID uint, dets []core.ItemDetection, res core.ComplianceResult, jpeg []byte) CheckpointResult {
	var out CheckpointResult
	if res.State == core.StateCorrect {
		return out
	}

	lim := c.limiter(cameraID)
	now := c.now()
	out.Suppressed = lim.TokensAt(now) < 1
	if out.Suppressed {
		c.metrics.AlertSuppressed()
		if !c.cfg.PersistSuppressed {
			return out
		}
	}

	detID, snapshotPath, ok := c.persist(ctx, cameraID, dets, res, jpeg)
	if !ok {
		return out
	}
	out.DetectionID = detID

	if out.Suppressed || !lim.AllowN(now, 1) {
		out.Suppressed = true
		return out
	}
	if alertID, ok := c.raise(ctx, cameraID, detID, res, snapshotPath); ok {
		out.AlertID = alertID
	}
	return out
}
