package acq

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/labsweep/camera"
)

// Synchronizer pulls single frames out of a push-based stream.
//
// Each capture makes a one-shot subscription with its own single-frame slot,
// triggers, and waits up to Timeout.  If nothing arrives it subscribes and
// triggers again, without bound, since drivers drop frames from their queues
// without reporting it.  A frame delivered late to an abandoned attempt lands
// in that attempt's slot and is never returned.
//
// CaptureOne must only be called from one goroutine at a time.
type Synchronizer struct {
	Stream  camera.Streamer
	Timeout time.Duration
	Log     *log.Logger

	retries atomic.Uint64
}

// NewSynchronizer returns a synchronizer over a stream
func NewSynchronizer(s camera.Streamer, timeout time.Duration, lg *log.Logger) *Synchronizer {
	if lg == nil {
		lg = log.Default()
	}
	return &Synchronizer{Stream: s, Timeout: timeout, Log: lg}
}

// Retries returns the number of times a capture timed out and re-triggered
func (s *Synchronizer) Retries() uint64 {
	return s.retries.Load()
}

// CaptureOne returns the next frame delivered after the call.  The frame is
// a copy owned by the caller.
func (s *Synchronizer) CaptureOne(ctx context.Context) (camera.Frame, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	for attempt := 1; ; attempt++ {
		if err := cancelled(ctx); err != nil {
			return camera.Frame{}, err
		}
		slot := make(chan camera.Frame, 1)
		s.Stream.SubscribeNextFrame(func(f camera.Frame) {
			select {
			case slot <- f.Clone():
			default:
			}
		})
		if err := s.Stream.Trigger(); err != nil {
			return camera.Frame{}, fmt.Errorf("acq: triggering camera: %w", err)
		}

		t := time.NewTimer(timeout)
		select {
		case f := <-slot:
			t.Stop()
			if ps, ok := s.Stream.(camera.PropertySyncer); ok {
				if err := ps.SyncProperties(f); err != nil {
					s.Log.Printf("acq: syncing camera properties: %v", err)
				}
			}
			return f, nil
		case <-ctx.Done():
			t.Stop()
			return camera.Frame{}, ErrCancelled
		case <-t.C:
			s.retries.Add(1)
			s.Log.Printf("acq: no frame within %v, re-triggering (attempt %d)", timeout, attempt+1)
		}
	}
}
