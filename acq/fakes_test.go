package acq

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/fluidics"
)

var errDevice = errors.New("device rejected the command")

func quietLog() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// testConfig is the default configuration without any settle delays
func testConfig() Config {
	c := DefaultConfig()
	c.FrameTimeout = 200 * time.Millisecond
	c.WarmUp = 0
	c.WavelengthSettle = 0
	c.DefocusSettle = 0
	c.MediumSettle = 0
	c.OffsetSettle = 0
	return c
}

type fakeLaser struct {
	mu      sync.Mutex
	open    bool
	wvl, bw float64
	sets    []float64
	failAt  float64
}

func newFakeLaser() *fakeLaser {
	return &fakeLaser{open: true, wvl: 550, bw: 10}
}

func (l *fakeLaser) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *fakeLaser) SetWavelength(nm float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sets = append(l.sets, nm)
	if l.failAt != 0 && nm == l.failAt {
		return errDevice
	}
	l.wvl = nm
	return nil
}

func (l *fakeLaser) Wavelength() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wvl, nil
}

func (l *fakeLaser) Bandwidth() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bw, nil
}

func (l *fakeLaser) RepetitionRate() (float64, error) {
	return 78000, nil
}

func (l *fakeLaser) Sets() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.sets...)
}

type fakeStage struct {
	mu      sync.Mutex
	x, y, z float64
	xyOK    bool
	zOK     bool
	xyMoves [][2]float64
	zMoves  []float64

	// onSetXY, when not nil, is called with the count of XY moves after
	// each one
	onSetXY func(n int)

	// hold, when not nil, blocks SetZ until it is closed, ignoring any
	// cancellation, as a stuck vendor call would
	hold chan struct{}
}

func newFakeStage() *fakeStage {
	return &fakeStage{x: 100, y: 200, z: 50, xyOK: true, zOK: true}
}

func (s *fakeStage) XY() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y, nil
}

func (s *fakeStage) SetXY(x, y float64) error {
	s.mu.Lock()
	s.x, s.y = x, y
	s.xyMoves = append(s.xyMoves, [2]float64{x, y})
	n, hook := len(s.xyMoves), s.onSetXY
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (s *fakeStage) Z() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.z, nil
}

func (s *fakeStage) SetZ(z float64) error {
	s.mu.Lock()
	s.z = z
	s.zMoves = append(s.zMoves, z)
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return nil
}

func (s *fakeStage) XYAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xyOK
}

func (s *fakeStage) ZAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zOK
}

func (s *fakeStage) ZMoves() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.zMoves...)
}

func (s *fakeStage) XYMoves() [][2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]float64(nil), s.xyMoves...)
}

// rig is a complete set of fake devices
type rig struct {
	cam   *camera.Mock
	stage *fakeStage
	laser *fakeLaser
	pump  *fluidics.Mock
}

const frameW, frameH = 4, 3

func newRig(t *testing.T) *rig {
	cam := camera.NewMock(frameW, frameH, 0)
	cam.Start()
	t.Cleanup(cam.Stop)
	return &rig{
		cam:   cam,
		stage: newFakeStage(),
		laser: newFakeLaser(),
		pump:  fluidics.NewMock(fluidics.DefaultPorts, 0),
	}
}

func (r *rig) devices() Devices {
	return Devices{Camera: r.cam, Stage: r.stage, Laser: r.laser, Pump: r.pump, Ports: fluidics.DefaultPorts}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *rig) {
	r := newRig(t)
	o := New(r.devices(), testConfig())
	o.Log = quietLog()
	return o, r
}

// eventLog collects the events an orchestrator emits
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.events))
	for i, e := range l.events {
		out[i] = e.State
	}
	return out
}

func (l *eventLog) Last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}
