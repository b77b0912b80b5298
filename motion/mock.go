package motion

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	mockServoPeriod      = time.Millisecond
	mockPositioningError = 1e-4 // 0.1 nm, in um
)

var (
	// ErrNotHomed is generated when an axis that has not been homed is moved
	ErrNotHomed = errors.New("motion: axis not homed")

	// ErrMoving is generated when an axis that is already moving is commanded
	ErrMoving = errors.New("motion: axis already moving")
)

// MockController is a software motion controller.  Moves take
// distance/velocity of wall time and land within a small random error of the
// target, as a closed loop stage would.
type MockController struct {
	sync.Mutex
	moving map[string]bool
	homed  map[string]bool
	pos    map[string]float64
	vel    map[string]float64

	// DefaultVelocity is used for axes without a velocity, um/s
	DefaultVelocity float64

	// Moves counts the completed moves per axis
	Moves map[string]int
}

// NewMockController returns a controller whose axes are homed at zero
func NewMockController(axes ...string) *MockController {
	c := &MockController{
		moving:          make(map[string]bool),
		homed:           make(map[string]bool),
		pos:             make(map[string]float64),
		vel:             make(map[string]float64),
		DefaultVelocity: 5000,
		Moves:           make(map[string]int),
	}
	for _, a := range axes {
		c.homed[a] = true
	}
	return c
}

func randN1to1() float64 {
	return rand.Float64()*2 - 1
}

// GetPos returns the position of an axis
func (c *MockController) GetPos(axis string) (float64, error) {
	c.Lock()
	defer c.Unlock()
	return c.pos[axis], nil
}

// SetVelocity sets the velocity of an axis, um/s
func (c *MockController) SetVelocity(axis string, v float64) error {
	c.Lock()
	defer c.Unlock()
	if c.moving[axis] {
		return ErrMoving
	}
	c.vel[axis] = v
	return nil
}

// Home homes an axis, moving it to zero
func (c *MockController) Home(axis string) error {
	err := c.MoveAbsUnhomed(axis, 0)
	if err != nil {
		return err
	}
	c.Lock()
	c.homed[axis] = true
	c.Unlock()
	return nil
}

// MoveAbs moves an axis to an absolute position and blocks until it arrives
func (c *MockController) MoveAbs(axis string, pos float64) error {
	c.Lock()
	homed := c.homed[axis]
	c.Unlock()
	if !homed {
		return ErrNotHomed
	}
	return c.MoveAbsUnhomed(axis, pos)
}

// MoveAbsUnhomed is MoveAbs without the homed check
func (c *MockController) MoveAbsUnhomed(axis string, pos float64) error {
	c.Lock()
	if c.moving[axis] {
		c.Unlock()
		return ErrMoving
	}
	c.moving[axis] = true
	v, ok := c.vel[axis]
	if !ok {
		v = c.DefaultVelocity
	}
	dist := math.Abs(pos - c.pos[axis])
	c.Unlock()

	if v > 0 {
		deadline := time.Now().Add(time.Duration(dist / v * float64(time.Second)))
		for time.Now().Before(deadline) {
			time.Sleep(mockServoPeriod)
		}
	}

	c.Lock()
	defer c.Unlock()
	c.pos[axis] = pos + randN1to1()*mockPositioningError
	c.moving[axis] = false
	c.Moves[axis]++
	return nil
}

// MoveRel moves an axis a relative amount
func (c *MockController) MoveRel(axis string, dPos float64) error {
	pos, _ := c.GetPos(axis)
	return c.MoveAbs(axis, pos+dPos)
}

// MoveCount returns the number of completed moves on an axis
func (c *MockController) MoveCount(axis string) int {
	c.Lock()
	defer c.Unlock()
	return c.Moves[axis]
}
