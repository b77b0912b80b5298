package acq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/labsweep/camera"
)

// lossyStream ignores triggers until deliverFrom, then answers every trigger
// by delivering to every pending subscriber, stale ones included.  The pixel
// value of each frame is the number of the trigger that produced it.
type lossyStream struct {
	mu          sync.Mutex
	subs        []func(camera.Frame)
	triggers    int
	deliverFrom int
	synced      int
}

func (s *lossyStream) StreamValid() bool            { return true }
func (s *lossyStream) FrameRate() (float64, error)  { return 0, nil }
func (s *lossyStream) Exposure() (bool, int, error) { return false, 1000, nil }
func (s *lossyStream) SyncProperties(camera.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced++
	return nil
}

func (s *lossyStream) SubscribeNextFrame(cb func(camera.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, cb)
}

func (s *lossyStream) Trigger() error {
	s.mu.Lock()
	s.triggers++
	n := s.triggers
	if n < s.deliverFrom {
		s.mu.Unlock()
		return nil
	}
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	go func() {
		f := camera.FrameFromValues([]uint16{uint16(n), uint16(n)}, 2, 1, time.Now())
		for _, cb := range subs {
			cb(f)
		}
	}()
	return nil
}

func TestCaptureOneRetriesUntilDelivered(t *testing.T) {
	s := &lossyStream{deliverFrom: 3}
	sy := NewSynchronizer(s, 100*time.Millisecond, quietLog())

	f, err := sy.CaptureOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 3}, f.Values())
	assert.Equal(t, uint64(2), sy.Retries())

	// the stale subscriptions of the first call were fed frame 3 as well;
	// none of that leaks into the next capture
	f, err = sy.CaptureOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{4, 4}, f.Values())
	assert.Equal(t, uint64(2), sy.Retries())
	assert.Equal(t, 2, s.synced)
}

func TestCaptureOneCancelledWhileWaiting(t *testing.T) {
	s := &lossyStream{deliverFrom: 1 << 30}
	sy := NewSynchronizer(s, 10*time.Millisecond, quietLog())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := sy.CaptureOne(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Greater(t, sy.Retries(), uint64(0))
}

func TestCaptureOneCopiesTheFrame(t *testing.T) {
	cam := camera.NewMock(4, 3, 0)
	cam.Start()
	defer cam.Stop()
	sy := NewSynchronizer(cam, time.Second, quietLog())

	first, err := sy.CaptureOne(context.Background())
	require.NoError(t, err)
	vals := first.Values()
	// the mock renders into a pool of three buffers; cycle through all of them
	for i := 0; i < 4; i++ {
		_, err := sy.CaptureOne(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, vals, first.Values())

	n, _ := cam.Synced()
	assert.Equal(t, uint64(5), n)
}

func TestCaptureOneSurvivesDroppedFrames(t *testing.T) {
	cam := camera.NewMock(4, 3, 0)
	cam.Start()
	defer cam.Stop()
	cam.DropNext(2)
	sy := NewSynchronizer(cam, 100*time.Millisecond, quietLog())

	_, err := sy.CaptureOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sy.Retries())
}
