package fluidics

import (
	"fmt"
	"sync"
	"time"
)

// Op is one move recorded by the Mock
type Op struct {
	PickUp bool
	Port   int
	Volume float64
	Rate   float64
}

func (o Op) String() string {
	verb := "dispense"
	if o.PickUp {
		verb = "pickup"
	}
	return fmt.Sprintf("%s %.0ful port %d @ %.0ful/min", verb, o.Volume, o.Port, o.Rate)
}

// Mock is a software pump.  Each move keeps it busy for Latency.
type Mock struct {
	sync.Mutex

	// Ports is the valve plumbing
	Ports Ports

	// Latency is how long a move keeps the pump busy
	Latency time.Duration

	open      bool
	busyUntil time.Time
	volume    float64
	lastPort  int
	hasLast   bool
	ops       []Op
	waits     int
}

// NewMock returns an open mock pump
func NewMock(ports Ports, latency time.Duration) *Mock {
	return &Mock{Ports: ports, Latency: latency, open: true}
}

// SetOpen opens or closes the mock
func (m *Mock) SetOpen(b bool) {
	m.Lock()
	defer m.Unlock()
	m.open = b
}

// IsOpen returns true if the mock is open
func (m *Mock) IsOpen() bool {
	m.Lock()
	defer m.Unlock()
	return m.open
}

func (m *Mock) record(op Op) error {
	if !m.open {
		return ErrNotOpen
	}
	m.ops = append(m.ops, op)
	m.busyUntil = time.Now().Add(m.Latency)
	return nil
}

// PickUp draws from a port
func (m *Mock) PickUp(port int, ul float64) error {
	if err := m.Ports.CheckPickUp(port); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	err := m.record(Op{PickUp: true, Port: port, Volume: ul, Rate: FastRate})
	if err != nil {
		return err
	}
	m.volume += ul
	m.lastPort, m.hasLast = port, true
	return nil
}

// Dispense pushes into a port
func (m *Mock) Dispense(port int, ul float64) error {
	if err := m.Ports.CheckDispense(port); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	err := m.record(Op{Port: port, Volume: ul, Rate: m.Ports.DispenseRate(port)})
	if err != nil {
		return err
	}
	m.volume -= ul
	return nil
}

// WaitUntilReady sleeps until the last move has finished
func (m *Mock) WaitUntilReady() error {
	m.Lock()
	if !m.open {
		m.Unlock()
		return ErrNotOpen
	}
	m.waits++
	d := time.Until(m.busyUntil)
	m.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return nil
}

// LastPort returns the last port drawn from
func (m *Mock) LastPort() (int, bool) {
	m.Lock()
	defer m.Unlock()
	return m.lastPort, m.hasLast
}

// Ops returns a copy of the moves made so far
func (m *Mock) Ops() []Op {
	m.Lock()
	defer m.Unlock()
	return append([]Op(nil), m.ops...)
}

// Waits returns the number of calls to WaitUntilReady
func (m *Mock) Waits() int {
	m.Lock()
	defer m.Unlock()
	return m.waits
}

// Volume returns the volume held in the syringe, ul
func (m *Mock) Volume() float64 {
	m.Lock()
	defer m.Unlock()
	return m.volume
}
