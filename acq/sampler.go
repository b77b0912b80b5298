package acq

import (
	"context"
	"fmt"

	"github.com/nasa-jpl/labsweep/camera"
	gmotion "github.com/nasa-jpl/labsweep/generichttp/motion"
)

// Sampler is the terminal step of every chain.  It captures Shots frames at
// the current lateral position (the anchor), then, when Offsets is set, one
// frame at each background position, and returns to the anchor.
type Sampler struct {
	Stage   gmotion.Stage
	Grabber camera.Grabber
	Shots   int
	Offsets bool
	Cfg     Config

	// Sink receives every frame in capture order
	Sink func(camera.Frame)
}

func (s Sampler) capture(ctx context.Context) error {
	f, err := s.Grabber.CaptureOne(ctx)
	if err != nil {
		return err
	}
	s.Sink(f)
	return nil
}

// Run captures one sample record
func (s Sampler) Run(ctx context.Context) (err error) {
	if !s.Offsets {
		for i := 0; i < s.Shots; i++ {
			if err = s.capture(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	x0, y0, err := s.Stage.XY()
	if err != nil {
		return fmt.Errorf("acq: reading stage position: %w", err)
	}
	for i := 0; i < s.Shots; i++ {
		if err = s.capture(ctx); err != nil {
			return err
		}
	}

	defer restore(ctx, &err, "stage position", func() error { return s.Stage.SetXY(x0, y0) })
	d := s.Cfg.OffsetDistance
	for _, off := range backgroundOffsets {
		if err = cancelled(ctx); err != nil {
			return err
		}
		x, y := x0+off[0]*d, y0+off[1]*d
		if err = s.Stage.SetXY(x, y); err != nil {
			return fmt.Errorf("acq: moving stage to (%v, %v): %w", x, y, err)
		}
		if err = sleep(ctx, s.Cfg.OffsetSettle); err != nil {
			return err
		}
		if err = s.capture(ctx); err != nil {
			return err
		}
	}
	return nil
}
