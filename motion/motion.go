// Package motion builds a microscope stage out of the axes of a motion
// controller, and contains a software controller for use without hardware.
package motion

import (
	"errors"
	"fmt"
	"sync"

	gmotion "github.com/nasa-jpl/labsweep/generichttp/motion"
	"github.com/nasa-jpl/labsweep/util"
)

var (
	// ErrNoAxis is generated when a stage axis is not configured
	ErrNoAxis = errors.New("motion: axis not configured")

	// ErrClamped is generated when a move would leave the software limits
	ErrClamped = errors.New("motion: requested position violates software limits, aborted")
)

// AxisStage is a Stage whose X, Y, and Z are named axes of a controller.
// An empty axis name marks the axis as absent.
type AxisStage struct {
	Ctl gmotion.Mover

	X, Y, Zaxis string

	// Lim holds optional per-axis software limits
	Lim map[string]util.Limiter

	mu sync.Mutex
}

// NewAxisStage returns a stage over ctl
func NewAxisStage(ctl gmotion.Mover, x, y, z string, limits map[string]util.Limiter) *AxisStage {
	return &AxisStage{Ctl: ctl, X: x, Y: y, Zaxis: z, Lim: limits}
}

func (s *AxisStage) check(axis string, pos float64) error {
	if axis == "" {
		return ErrNoAxis
	}
	if lim, ok := s.Lim[axis]; ok && !lim.Check(pos) {
		return fmt.Errorf("%w: %s to %f, limits [%f, %f]", ErrClamped, axis, pos, lim.Min, lim.Max)
	}
	return nil
}

// XYAvailable returns true if both lateral axes are configured
func (s *AxisStage) XYAvailable() bool {
	return s.X != "" && s.Y != ""
}

// ZAvailable returns true if the focus axis is configured
func (s *AxisStage) ZAvailable() bool {
	return s.Zaxis != ""
}

// XY returns the lateral position
func (s *AxisStage) XY() (float64, float64, error) {
	if !s.XYAvailable() {
		return 0, 0, ErrNoAxis
	}
	x, err := s.Ctl.GetPos(s.X)
	if err != nil {
		return 0, 0, err
	}
	y, err := s.Ctl.GetPos(s.Y)
	return x, y, err
}

// SetXY moves X then Y; both moves are checked against the limits before
// either is made
func (s *AxisStage) SetXY(x, y float64) error {
	if err := s.check(s.X, x); err != nil {
		return err
	}
	if err := s.check(s.Y, y); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.Ctl.MoveAbs(s.X, x)
	if err != nil {
		return err
	}
	return s.Ctl.MoveAbs(s.Y, y)
}

// Z returns the focus position
func (s *AxisStage) Z() (float64, error) {
	if !s.ZAvailable() {
		return 0, ErrNoAxis
	}
	return s.Ctl.GetPos(s.Zaxis)
}

// SetZ moves the focus
func (s *AxisStage) SetZ(z float64) error {
	if err := s.check(s.Zaxis, z); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ctl.MoveAbs(s.Zaxis, z)
}

// GetPos forwards to the controller
func (s *AxisStage) GetPos(axis string) (float64, error) {
	return s.Ctl.GetPos(axis)
}

// MoveAbs moves an axis, respecting the limits
func (s *AxisStage) MoveAbs(axis string, pos float64) error {
	if err := s.check(axis, pos); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ctl.MoveAbs(axis, pos)
}

// MoveRel moves an axis a relative amount, respecting the limits
func (s *AxisStage) MoveRel(axis string, dPos float64) error {
	pos, err := s.Ctl.GetPos(axis)
	if err != nil {
		return err
	}
	return s.MoveAbs(axis, pos+dPos)
}

// Home forwards to the controller
func (s *AxisStage) Home(axis string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ctl.Home(axis)
}

// Limits returns the software limits of an axis
func (s *AxisStage) Limits(axis string) (util.Limiter, bool) {
	lim, ok := s.Lim[axis]
	return lim, ok
}
