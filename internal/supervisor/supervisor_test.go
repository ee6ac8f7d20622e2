package supervisor

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sua-org/ppe-watch/internal/alerts"
	"github.com/sua-org/ppe-watch/internal/cameras"
	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
	"github.com/sua-org/ppe-watch/internal/stream"
	"github.com/sua-org/ppe-watch/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store   *datastore.Store
	opener  *testsupport.DeviceOpener
	manager *capture.Manager
	pub     *testsupport.Publisher
	coord   *alerts.Coordinator
	sup     *Supervisor
	cam     datastore.Camera
}

func newFixture(t *testing.T, available ...int) *fixture {
	t.Helper()
	f := &fixture{
		store:  testsupport.MustOpenStore(t),
		opener: testsupport.NewDeviceOpener(available...),
		pub:    &testsupport.Publisher{},
	}
	f.cam = testsupport.NewCamera(t, f.store, 0, "Gate", "Loading dock")

	reg := cameras.NewRegistry(f.store)
	f.manager = capture.NewManager(reg, f.opener, capture.DefaultParams(), nil)
	reg.SetReleaser(f.manager)

	acfg := alerts.DefaultConfig()
	acfg.SampleEvery = 1
	f.coord = alerts.New(f.store, testsupport.NewSnapshotStore(), f.pub, acfg, nil)
	t.Cleanup(f.coord.Close)

	f.sup = New(Deps{
		Cameras:     reg,
		Manager:     f.manager,
		Engines:     testsupport.NewProvider(testsupport.NewInferer("helmet", "no_vest", "person")),
		Encoder:     testsupport.Encoder{},
		Coordinator: f.coord,
		Events:      f.store,
		Publisher:   f.pub,
	}, Config{StatusInterval: 10 * time.Millisecond, BaseTopic: "ppe"})
	t.Cleanup(f.sup.Shutdown)
	return f
}

func (f *fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	evs, err := f.store.ListEvents(context.Background(), 0)
	require.NoError(t, err)
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func (f *fixture) cameraStatus(t *testing.T) core.CameraStatus {
	t.Helper()
	cam, err := f.store.GetCamera(context.Background(), f.cam.ID)
	require.NoError(t, err)
	return core.CameraStatus(cam.Status)
}

func TestStartStreamEmitsFrames(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	s, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sup.ActiveStreams(f.cam.ID))

	for want := 1; want <= 3; want++ {
		require.True(t, s.Next(ctx))
		assert.Equal(t, uint64(want), s.Chunk().Seq)
		assert.Nil(t, s.Chunk().Compliance)
	}
	s.Close()

	assert.Equal(t, 0, f.sup.ActiveStreams(f.cam.ID))
	assert.Contains(t, f.eventTypes(t), "camera_opened")
}

func TestStreamsShareOneDevice(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.NoError(t, err)
	b, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	require.True(t, a.Next(ctx))
	require.True(t, b.Next(ctx))
	assert.Equal(t, 1, f.opener.Opens(0))
	assert.Equal(t, 2, f.sup.ActiveStreams(f.cam.ID))
}

func TestStartStreamWithDetectionRaisesOneAlert(t *testing.T) {
	f := newFixture(t, 0)
	f.opener.Frames = 3
	ctx := context.Background()

	s, err := f.sup.StartStream(ctx, f.cam.ID, true)
	require.NoError(t, err)
	n := 0
	for s.Next(ctx) {
		require.NotNil(t, s.Chunk().Compliance)
		assert.Equal(t, core.StateIncomplete, s.Chunk().Compliance.State)
		n++
	}
	reason, err := s.End()
	require.NoError(t, err)
	assert.Equal(t, stream.EndEOF, reason)
	assert.Equal(t, 3, n)

	count, err := f.store.CountAlerts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	alertTopic := "ppe/" + strconv.Itoa(int(f.cam.ID)) + "/alerts"
	require.Eventually(t, func() bool {
		return len(f.pub.Topics()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{alertTopic}, f.pub.Topics())
}

func TestDetectionStreamKeepsEmittingWhilePublisherIsStuck(t *testing.T) {
	f := newFixture(t, 0)
	gate := make(chan struct{})
	f.pub.Gate = gate
	t.Cleanup(func() { close(gate) })
	ctx := context.Background()

	s, err := f.sup.StartStream(ctx, f.cam.ID, true)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Next(ctx))
	require.Eventually(t, func() bool { return f.pub.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	emitted := make(chan int, 1)
	go func() {
		n := 0
		for n < 10 && s.Next(ctx) {
			n++
		}
		emitted <- n
	}()
	select {
	case n := <-emitted:
		assert.Equal(t, 10, n)
	case <-time.After(2 * time.Second):
		t.Fatal("frame loop blocked behind the alert publisher")
	}

	count, err := f.store.CountAlerts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStartStreamOpenFailureMarksCamera(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.ErrorIs(t, err, core.ErrOpenFailed)
	assert.Equal(t, core.CameraError, f.cameraStatus(t))
	assert.Contains(t, f.eventTypes(t), "camera_open_failed")

	f.opener.SetAvailable(0, true)
	s, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.NoError(t, err)
	s.Close()
	assert.Equal(t, core.CameraActive, f.cameraStatus(t))
}

func TestStartStreamUnknownCamera(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.sup.StartStream(context.Background(), 999, false)
	require.ErrorIs(t, err, core.ErrNotConfigured)
	assert.Empty(t, f.eventTypes(t))
}

func TestStopStreamEndsReaders(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	s, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.NoError(t, err)
	require.True(t, s.Next(ctx))

	f.sup.StopStream(ctx, f.cam.ID)

	assert.False(t, s.Next(ctx))
	reason, err := s.End()
	assert.Equal(t, stream.EndError, reason)
	assert.ErrorIs(t, err, core.ErrReleased)
	assert.True(t, f.opener.Sources(0)[0].Closed())
	assert.Contains(t, f.eventTypes(t), "camera_released")
}

func TestShutdownRefusesNewStreams(t *testing.T) {
	f := newFixture(t, 0)
	f.sup.Shutdown()

	_, err := f.sup.StartStream(context.Background(), f.cam.ID, false)
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestCameraStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("online", func(t *testing.T) {
		f := newFixture(t, 0)
		st, err := f.sup.CameraStatus(ctx, f.cam.ID)
		require.NoError(t, err)
		assert.Equal(t, capture.ConnectionStateOnline, st.State)
		require.NotNil(t, st.Health)
		assert.Equal(t, uint64(1), st.Health.FramesRead)
	})

	t.Run("error when the read fails", func(t *testing.T) {
		f := newFixture(t, 0)
		f.opener.Frames = 0
		st, err := f.sup.CameraStatus(ctx, f.cam.ID)
		require.NoError(t, err)
		assert.Equal(t, capture.ConnectionStateError, st.State)
		assert.NotEmpty(t, st.Error)
	})

	t.Run("offline when the device cannot open", func(t *testing.T) {
		f := newFixture(t)
		st, err := f.sup.CameraStatus(ctx, f.cam.ID)
		require.NoError(t, err)
		assert.Equal(t, capture.ConnectionStateOffline, st.State)
		assert.Nil(t, st.Health)
		assert.Equal(t, core.CameraError, f.cameraStatus(t))
	})

	t.Run("unknown camera", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.sup.CameraStatus(ctx, 42)
		assert.ErrorIs(t, err, core.ErrNotConfigured)
	})
}

func TestPublishStatuses(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	s, err := f.sup.StartStream(ctx, f.cam.ID, false)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.Next(ctx))

	f.sup.publishStatuses(ctx, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	msgs := f.pub.Messages()
	require.Len(t, msgs, 2)

	camTopic := "ppe/" + strconv.Itoa(int(f.cam.ID)) + "/status"
	assert.Equal(t, camTopic, msgs[0].Topic)
	assert.True(t, msgs[0].Retained)
	var cam map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &cam))
	assert.Equal(t, "online", cam["status"])
	assert.Equal(t, float64(1), cam["frames_read"])
	assert.Equal(t, float64(1), cam["active_streams"])
	assert.Equal(t, "2024-03-01T09:00:00Z", cam["timestamp"])

	assert.Equal(t, "ppe/collector/status", msgs[1].Topic)
	var col map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &col))
	assert.Equal(t, "ppe-watch", col["collector"])
	assert.Equal(t, float64(1), col["cameras"])
}

func TestRunStatusLoopStopsWithContext(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sup.RunStatusLoop(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(f.pub.Messages()) > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, f.pub.Topics(), "ppe/collector/status")
}

func TestRunStatusLoopStopsMidRoundOnCancel(t *testing.T) {
	f := newFixture(t, 0)
	gate := make(chan struct{})
	f.pub.Gate = gate

	s, err := f.sup.StartStream(context.Background(), f.cam.ID, false)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sup.RunStatusLoop(ctx)
	}()

	require.Eventually(t, func() bool { return f.pub.Waiting() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status loop did not stop after cancel")
	}

	// The camera status in flight completes; the collector status is skipped.
	assert.Equal(t, []string{"ppe/" + strconv.Itoa(int(f.cam.ID)) + "/status"}, f.pub.Topics())
}

func TestRunStatusLoopWithoutPublisher(t *testing.T) {
	f := newFixture(t, 0)
	f.sup.d.Publisher = nil

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sup.RunStatusLoop(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status loop should return without a publisher")
	}
}
