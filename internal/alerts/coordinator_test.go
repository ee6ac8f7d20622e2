package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
	"github.com/sua-org/ppe-watch/internal/detection"
	"github.com/sua-org/ppe-watch/internal/stream"
	"github.com/sua-org/ppe-watch/internal/testsupport"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store     *datastore.Store
	snapshots *testsupport.SnapshotStore
	pub       *testsupport.Publisher
	clock     *clock
	coord     *Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     testsupport.MustOpenStore(t),
		snapshots: testsupport.NewSnapshotStore(),
		pub:       &testsupport.Publisher{},
		clock:     &clock{t: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)},
	}
	f.coord = New(f.store, f.snapshots, f.pub, cfg, nil)
	f.coord.now = f.clock.now
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) waitForMessages(t *testing.T, n int) []testsupport.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.pub.Messages()) == n
	}, time.Second, 5*time.Millisecond)
	return f.pub.Messages()
}

func incomplete(dets []core.ItemDetection) core.ComplianceResult {
	return detection.Classify(dets)
}

var helmetOnly = []core.ItemDetection{
	{ItemType: core.ItemHelmet, Present: true, Confidence: 0.91, BBox: core.BBox{X1: 10, Y1: 20, X2: 60, Y2: 80}},
	{ItemType: core.ItemVest, Present: false, Confidence: 0.7},
}

func TestSnapshotKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 5, 123_000_000, time.UTC)
	assert.Equal(t, "cam7_20240301_093005_123.jpg", SnapshotKey(7, ts))
}

func TestPersistWritesSnapshotOnlyWhenNotCompliant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	id, ok := f.coord.Persist(ctx, 1, helmetOnly, incomplete(helmetOnly), []byte("jpeg"))
	require.True(t, ok)
	d, err := f.store.GetDetection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "I", d.State)
	assert.Equal(t, "static/snapshots/cam1_20240301_093000_000.jpg", d.SnapshotPath)

	// No frame supplied: no snapshot.
	id, ok = f.coord.Persist(ctx, 1, helmetOnly, incomplete(helmetOnly), nil)
	require.True(t, ok)
	d, err = f.store.GetDetection(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, d.SnapshotPath)

	// Compliant: no snapshot even with a frame.
	var all []core.ItemDetection
	for _, it := range detection.Catalog {
		all = append(all, core.ItemDetection{ItemType: it, Present: true, Confidence: 0.8})
	}
	f.clock.advance(time.Second)
	id, ok = f.coord.Persist(ctx, 1, all, detection.Classify(all), []byte("jpeg"))
	require.True(t, ok)
	d, err = f.store.GetDetection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "C", d.State)
	assert.Empty(t, d.SnapshotPath)
	assert.Len(t, f.snapshots.Keys(), 1)
}

func TestPersistItemRecords(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	dets := append([]core.ItemDetection{
		{ItemType: core.ItemHelmet, Present: true, Confidence: 0.6},
		{ItemType: core.ItemPerson, Present: true},
	}, helmetOnly...)
	id, ok := f.coord.Persist(ctx, 1, dets, incomplete(dets), nil)
	require.True(t, ok)

	d, err := f.store.GetDetection(ctx, id)
	require.NoError(t, err)
	// helmet x2, vest x1, then one empty record for gloves, boots, goggles.
	require.Len(t, d.Items, 6)

	ids, err := f.store.ItemTypeIDs(ctx)
	require.NoError(t, err)
	byType := map[uint][]datastore.DetectionItem{}
	for _, it := range d.Items {
		byType[it.ItemTypeID] = append(byType[it.ItemTypeID], it)
	}
	assert.Len(t, byType[ids["helmet"]], 2)
	vest := byType[ids["vest"]]
	require.Len(t, vest, 1)
	assert.False(t, vest[0].Detected)
	assert.InDelta(t, 0.7, vest[0].Confidence, 1e-9)
	gloves := byType[ids["gloves"]]
	require.Len(t, gloves, 1)
	assert.False(t, gloves[0].Detected)
	assert.Zero(t, gloves[0].Confidence)

	var box datastore.DetectionItem
	for _, it := range byType[ids["helmet"]] {
		if it.BBoxWidth > 0 {
			box = it
		}
	}
	assert.Equal(t, 10, box.BBoxX)
	assert.Equal(t, 20, box.BBoxY)
	assert.Equal(t, 50, box.BBoxWidth)
	assert.Equal(t, 60, box.BBoxHeight)
	assert.True(t, box.Correct)
}

func TestPersistSnapshotFailureStoresNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.snapshots.Err = errors.New("disk full")
	ctx := context.Background()

	id, ok := f.coord.Persist(ctx, 1, helmetOnly, incomplete(helmetOnly), []byte("jpeg"))
	assert.False(t, ok)
	assert.Zero(t, id)

	var n int64
	require.NoError(t, f.store.DB().Model(&datastore.Detection{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPersistStoreFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.store.Close())

	id, ok := f.coord.Persist(context.Background(), 1, helmetOnly, incomplete(helmetOnly), nil)
	assert.False(t, ok)
	assert.Zero(t, id)
}

func TestAlertSkipsCompliant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, ok := f.coord.Alert(context.Background(), 1, 1, core.ComplianceResult{State: core.StateCorrect})
	assert.False(t, ok)
	assert.Zero(t, id)
	assert.Empty(t, f.pub.Messages())
}

func TestAlertStoresAndPublishes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	res := incomplete(helmetOnly)
	id, ok := f.coord.Alert(ctx, 4, 12, res)
	require.True(t, ok)

	views, err := f.store.ListAlerts(ctx, datastore.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].ID)
	assert.Equal(t, TypeMissingVest, views[0].Type)
	assert.Equal(t, "high", views[0].Severity)
	assert.Equal(t, "pending", views[0].Status)

	msgs := f.waitForMessages(t, 1)
	assert.Equal(t, "ppe/4/alerts", msgs[0].Topic)
	var ev core.AlertEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, id, ev.AlertID)
	assert.EqualValues(t, 12, ev.DetectionID)
	assert.Equal(t, core.SeverityHigh, ev.Severity)
}

func TestAlertPublishFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.pub.Err = errors.New("broker down")
	_, ok := f.coord.Alert(context.Background(), 1, 1, incomplete(helmetOnly))
	assert.True(t, ok)
}

func TestCheckpointDoesNotWaitForPublisher(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Outbox = 2
	f := newFixture(t, cfg)
	gate := make(chan struct{})
	f.pub.Gate = gate
	ctx := context.Background()
	res := incomplete(helmetOnly)

	require.NotZero(t, f.coord.Checkpoint(ctx, 1, helmetOnly, res, nil).AlertID)
	require.Eventually(t, func() bool { return f.pub.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	// Cameras 2 and 3 fill the outbox, camera 4's event is dropped. None of
	// the checkpoints waits for the stuck publisher.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for cam := uint(2); cam <= 4; cam++ {
			assert.NotZero(t, f.coord.Checkpoint(ctx, cam, helmetOnly, res, nil).AlertID)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("checkpoint blocked on the publisher")
	}

	n, err := f.store.CountAlerts(ctx, "pending")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	close(gate)
	msgs := f.waitForMessages(t, 3)
	assert.Equal(t, "ppe/1/alerts", msgs[0].Topic)
	assert.Equal(t, "ppe/2/alerts", msgs[1].Topic)
	assert.Equal(t, "ppe/3/alerts", msgs[2].Topic)
}

func TestCloseStopsPublishing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.coord.Close()
	f.coord.Close()

	_, ok := f.coord.Alert(context.Background(), 1, 1, incomplete(helmetOnly))
	assert.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.pub.Messages())
}

// catalogStore serves an empty item-type catalog until filled is set.
type catalogStore struct {
	*datastore.Store
	filled atomic.Bool
}

func (s *catalogStore) ItemTypeIDs(ctx context.Context) (map[string]uint, error) {
	if !s.filled.Load() {
		return map[string]uint{}, nil
	}
	return s.Store.ItemTypeIDs(ctx)
}

func TestPersistReloadsEmptyCatalog(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	st := &catalogStore{Store: f.store}
	coord := New(st, f.snapshots, nil, DefaultConfig(), nil)
	ctx := context.Background()

	id, ok := coord.Persist(ctx, 1, helmetOnly, incomplete(helmetOnly), nil)
	require.True(t, ok)
	d, err := f.store.GetDetection(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, d.Items)

	st.filled.Store(true)
	id, ok = coord.Persist(ctx, 1, helmetOnly, incomplete(helmetOnly), nil)
	require.True(t, ok)
	d, err = f.store.GetDetection(ctx, id)
	require.NoError(t, err)
	// helmet, vest, then one empty record for gloves, boots, goggles.
	assert.Len(t, d.Items, 5)
}

func TestCheckpointThrottle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	res := incomplete(helmetOnly)

	first := f.coord.Checkpoint(ctx, 1, helmetOnly, res, []byte("a"))
	assert.NotZero(t, first.AlertID)
	assert.False(t, first.Suppressed)

	f.clock.advance(4 * time.Second)
	second := f.coord.Checkpoint(ctx, 1, helmetOnly, res, []byte("b"))
	assert.Zero(t, second.AlertID)
	assert.True(t, second.Suppressed)
	assert.NotZero(t, second.DetectionID, "suppressed checkpoints are still stored")

	// Other cameras have their own window.
	other := f.coord.Checkpoint(ctx, 2, helmetOnly, res, nil)
	assert.NotZero(t, other.AlertID)

	f.clock.advance(time.Second)
	third := f.coord.Checkpoint(ctx, 1, helmetOnly, res, nil)
	assert.NotZero(t, third.AlertID, "five seconds after the last alert")
}

func TestCheckpointSuppressedNotPersistedWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistSuppressed = false
	f := newFixture(t, cfg)
	ctx := context.Background()
	res := incomplete(helmetOnly)

	require.NotZero(t, f.coord.Checkpoint(ctx, 1, helmetOnly, res, nil).AlertID)
	f.clock.advance(time.Second)
	out := f.coord.Checkpoint(ctx, 1, helmetOnly, res, nil)
	assert.True(t, out.Suppressed)
	assert.Zero(t, out.DetectionID)
}

func TestCheckpointFailedPersistKeepsWindowOpen(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	res := incomplete(helmetOnly)

	f.snapshots.Err = errors.New("disk full")
	out := f.coord.Checkpoint(ctx, 1, helmetOnly, res, []byte("a"))
	assert.Zero(t, out.DetectionID)
	assert.Zero(t, out.AlertID)

	f.snapshots.Err = nil
	f.clock.advance(time.Second)
	out = f.coord.Checkpoint(ctx, 1, helmetOnly, res, []byte("a"))
	assert.NotZero(t, out.AlertID)
}

func TestCheckpointWindowSurvivesNewSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	res := incomplete(helmetOnly)

	require.NotZero(t, f.coord.Checkpoint(ctx, 1, helmetOnly, res, nil).AlertID)
	// A reconnect builds a new Session but the window is the coordinator's.
	s := f.coord.Session(1)
	f.clock.advance(time.Second)
	require.NoError(t, s.Observe(ctx, stream.Observation{Seq: 30, Compliance: &res, Detections: helmetOnly}))

	views, err := f.store.ListAlerts(ctx, datastore.AlertFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

// 150 frames at sampling interval 30, all Incomplete, produced faster than
// the throttle: five checkpoints, one alert.
func TestSessionSamplingAndThrottle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	res := incomplete(helmetOnly)

	s := f.coord.Session(1)
	for seq := uint64(1); seq <= 150; seq++ {
		f.clock.advance(time.Second / 30)
		require.NoError(t, s.Observe(ctx, stream.Observation{
			Seq:        seq,
			JPEG:       []byte("jpeg"),
			Detections: helmetOnly,
			Compliance: &res,
		}))
	}
	assert.Equal(t, 5, s.Checkpoints())

	var detections int64
	require.NoError(t, f.store.DB().Model(&datastore.Detection{}).Count(&detections).Error)
	assert.EqualValues(t, 5, detections)

	n, err := f.store.CountAlerts(ctx, "pending")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	f.waitForMessages(t, 1)
	s.StreamEnded(stream.EndEOF)
}

func TestSessionIgnoresCompliantAndUndetected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var all []core.ItemDetection
	for _, it := range detection.Catalog {
		all = append(all, core.ItemDetection{ItemType: it, Present: true})
	}
	ok := detection.Classify(all)

	s := f.coord.Session(1)
	require.NoError(t, s.Observe(ctx, stream.Observation{Seq: 30, Compliance: &ok, Detections: all}))
	require.NoError(t, s.Observe(ctx, stream.Observation{Seq: 60}))
	assert.Zero(t, s.Checkpoints())

	var n int64
	require.NoError(t, f.store.DB().Model(&datastore.Detection{}).Count(&n).Error)
	assert.Zero(t, n)
}
