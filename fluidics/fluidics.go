// Package fluidics drives the syringe pump and rotary valve that exchange the
// medium in the flowcell
package fluidics

import (
	"errors"
	"fmt"
)

const (
	// FastRate is the flow rate used for every move but dispensing into the
	// flowcell, ul/min
	FastRate = 1500.

	// SlowRate is the flow rate used when dispensing into the flowcell, ul/min
	SlowRate = 100.

	// CleanVolume is the volume used per rinse stroke when cleaning, ul
	CleanVolume = 500.

	// CleanCycles is the number of rinse cycles per port when cleaning
	CleanCycles = 5
)

var (
	// ErrNotOpen is generated when a command is issued to a closed pump
	ErrNotOpen = errors.New("fluidics: pump is not open")

	// ErrForbiddenPort is generated when a move would contaminate a reservoir
	// or draw from the flowcell or waste
	ErrForbiddenPort = errors.New("fluidics: forbidden port for this move")

	errBusy = errors.New("fluidics: pump busy")
)

// Pump is a syringe pump behind a selection valve
type Pump interface {
	// IsOpen returns true if the pump is connected and usable
	IsOpen() bool

	// PickUp draws a volume in ul from a port
	PickUp(port int, ul float64) error

	// Dispense pushes a volume in ul into a port
	Dispense(port int, ul float64) error

	// WaitUntilReady blocks until the pump has finished moving
	WaitUntilReady() error
}

// PortReader is a pump that remembers which port it last drew from
type PortReader interface {
	// LastPort returns the last port drawn from, false if there was none
	LastPort() (int, bool)
}

// Ports is the plumbing of the valve
type Ports struct {
	// Water is the rinse reservoir
	Water int `yaml:"Water"`

	// Flowcell feeds the sample
	Flowcell int `yaml:"Flowcell"`

	// Waste drains to the waste bottle
	Waste int `yaml:"Waste"`
}

// DefaultPorts is the standard plumbing of the ten port valve
var DefaultPorts = Ports{Water: 1, Flowcell: 8, Waste: 10}

// CheckPickUp returns ErrForbiddenPort if port must not be drawn from
func (p Ports) CheckPickUp(port int) error {
	if port == p.Waste || port == p.Flowcell {
		return fmt.Errorf("%w: cannot pick up from port %d", ErrForbiddenPort, port)
	}
	return nil
}

// CheckDispense returns ErrForbiddenPort if port must not be dispensed into
func (p Ports) CheckDispense(port int) error {
	if port == p.Water {
		return fmt.Errorf("%w: cannot dispense into port %d", ErrForbiddenPort, port)
	}
	return nil
}

// DispenseRate is the flow rate for a dispense into port
func (p Ports) DispenseRate(port int) float64 {
	if port == p.Flowcell {
		return SlowRate
	}
	return FastRate
}

// Flow dispenses a volume into the flowcell
func Flow(pump Pump, ports Ports, ul float64) error {
	return pump.Dispense(ports.Flowcell, ul)
}

// Clean rinses each output port CleanCycles times: water is drawn and pushed
// into the port, drawn back out of it and sent to waste.  Waste and the
// flowcell cannot be cleaned this way.
func Clean(pump Pump, ports Ports, outputs []int) error {
	if !pump.IsOpen() {
		return ErrNotOpen
	}
	for _, out := range outputs {
		if out == ports.Waste || out == ports.Flowcell || out == ports.Water {
			return fmt.Errorf("%w: cannot clean port %d", ErrForbiddenPort, out)
		}
	}
	err := pump.WaitUntilReady()
	if err != nil {
		return err
	}
	steps := []struct {
		pickup bool
		port   func(out int) int
	}{
		{true, func(int) int { return ports.Water }},
		{false, func(out int) int { return out }},
		{true, func(out int) int { return out }},
		{false, func(int) int { return ports.Waste }},
	}
	for i := 0; i < CleanCycles; i++ {
		for _, out := range outputs {
			for _, s := range steps {
				if s.pickup {
					err = pump.PickUp(s.port(out), CleanVolume)
				} else {
					err = pump.Dispense(s.port(out), CleanVolume)
				}
				if err != nil {
					return err
				}
				err = pump.WaitUntilReady()
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
