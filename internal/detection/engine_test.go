package detection_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/detection"
	"github.com/sua-org/ppe-watch/internal/testsupport"
)

func TestEngineProcessMapsAndAnnotates(t *testing.T) {
	inf := testsupport.NewInferer("helmet", "no_vest", "person")
	ann := &testsupport.Annotator{}
	eng := detection.NewEngine(inf, ann, nil)

	frame := testsupport.NewFrame(0)
	res, err := eng.Process(frame)
	require.NoError(t, err)

	assert.Same(t, frame, res.Frame)
	require.Len(t, res.Detections, 3)
	assert.Equal(t, core.ItemVest, res.Detections[1].ItemType)
	assert.False(t, res.Detections[1].Present)
	assert.Equal(t, "no_vest", res.Detections[1].RawClass)
	assert.Equal(t, core.StateIncomplete, res.Compliance.State)
	assert.InDelta(t, 20.0, res.Compliance.Score, 1e-9)
	assert.EqualValues(t, 1, ann.Calls())
}

func TestEngineDetectRecoversPanic(t *testing.T) {
	inf := testsupport.NewInferer()
	inf.Panic = true
	eng := detection.NewEngine(inf, nil, nil)

	dets, err := eng.Detect(testsupport.NewFrame(0))
	assert.Error(t, err)
	assert.Nil(t, dets)
}

func TestEngineDetectError(t *testing.T) {
	inf := testsupport.NewInferer()
	inf.Err = errors.New("tensor shape")
	eng := detection.NewEngine(inf, nil, nil)

	_, err := eng.Process(testsupport.NewFrame(0))
	assert.ErrorContains(t, err, "tensor shape")
}

func TestProviderLoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	inf := testsupport.NewInferer()
	p := detection.NewProvider(func() (*detection.Engine, error) {
		loads.Add(1)
		return detection.NewEngine(inf, nil, nil), nil
	})

	const n = 16
	engines := make([]*detection.Engine, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eng, err := p.Get()
			assert.NoError(t, err)
			engines[i] = eng
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, loads.Load())
	for _, eng := range engines {
		assert.Same(t, engines[0], eng)
	}

	require.NoError(t, p.Close())
	assert.True(t, inf.Closed())
}

func TestProviderDoesNotRetryFailedLoad(t *testing.T) {
	var loads atomic.Int32
	p := detection.NewProvider(func() (*detection.Engine, error) {
		loads.Add(1)
		return nil, errors.New("model file missing")
	})

	_, err := p.Get()
	assert.Error(t, err)
	_, err = p.Get()
	assert.Error(t, err)
	assert.EqualValues(t, 1, loads.Load())
}

func TestProviderCloseBeforeGet(t *testing.T) {
	var loads atomic.Int32
	p := detection.NewProvider(func() (*detection.Engine, error) {
		loads.Add(1)
		return nil, nil
	})
	require.NoError(t, p.Close())

	_, err := p.Get()
	assert.Error(t, err)
	assert.Zero(t, loads.Load())
}
