package acq

import (
	"context"
	"fmt"

	"github.com/nasa-jpl/labsweep/fluidics"
	"github.com/nasa-jpl/labsweep/generichttp/laser"
	gmotion "github.com/nasa-jpl/labsweep/generichttp/motion"
)

// WavelengthDriver sweeps the center wavelength of a tunable source.  The
// source is given WarmUp at the first value before the loop begins.
type WavelengthDriver struct {
	Laser  laser.Tunable
	Values []float64
	Cfg    Config
}

// Kind returns Wavelength
func (w WavelengthDriver) Kind() Kind { return Wavelength }

// Run iterates the wavelengths
func (w WavelengthDriver) Run(ctx context.Context, next Procedure) (err error) {
	init, err := w.Laser.Wavelength()
	if err != nil {
		return fmt.Errorf("acq: reading wavelength: %w", err)
	}
	defer restore(ctx, &err, "wavelength", func() error { return w.Laser.SetWavelength(init) })

	if err = cancelled(ctx); err != nil {
		return err
	}
	if err = w.Laser.SetWavelength(w.Values[0]); err != nil {
		return fmt.Errorf("acq: setting wavelength %v nm: %w", w.Values[0], err)
	}
	if err = sleep(ctx, w.Cfg.WarmUp); err != nil {
		return err
	}
	for _, v := range w.Values {
		if err = cancelled(ctx); err != nil {
			return err
		}
		if err = w.Laser.SetWavelength(v); err != nil {
			return fmt.Errorf("acq: setting wavelength %v nm: %w", v, err)
		}
		if err = sleep(ctx, w.Cfg.WavelengthSettle); err != nil {
			return err
		}
		if err = next(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DefocusDriver sweeps the focus about its pre-sweep position.  Values are
// multiplied by Cfg.ZScale before they are added to the starting Z.
type DefocusDriver struct {
	Stage  gmotion.Stage
	Values []float64
	Cfg    Config
}

// Kind returns Defocus
func (d DefocusDriver) Kind() Kind { return Defocus }

// Run iterates the focus offsets
func (d DefocusDriver) Run(ctx context.Context, next Procedure) (err error) {
	z0, err := d.Stage.Z()
	if err != nil {
		return fmt.Errorf("acq: reading focus: %w", err)
	}
	defer restore(ctx, &err, "focus", func() error { return d.Stage.SetZ(z0) })

	for _, v := range d.Values {
		if err = cancelled(ctx); err != nil {
			return err
		}
		z := z0 + v*d.Cfg.ZScale
		if err = d.Stage.SetZ(z); err != nil {
			return fmt.Errorf("acq: moving focus to %v: %w", z, err)
		}
		if err = sleep(ctx, d.Cfg.DefocusSettle); err != nil {
			return err
		}
		if err = next(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MediumDriver sweeps the liquid in the flowcell.  Each value is a port that
// is drawn from and flowed into the flowcell before sampling.
type MediumDriver struct {
	Pump   fluidics.Pump
	Ports  fluidics.Ports
	Values []float64
	Cfg    Config
}

// Kind returns Medium
func (m MediumDriver) Kind() Kind { return Medium }

// exchange replaces the medium in the flowcell with the contents of a port
func (m MediumDriver) exchange(port int) error {
	if err := m.Pump.PickUp(port, m.Cfg.PickupVolume); err != nil {
		return fmt.Errorf("acq: drawing from port %d: %w", port, err)
	}
	if err := fluidics.Flow(m.Pump, m.Ports, m.Cfg.FlowVolume); err != nil {
		return fmt.Errorf("acq: flowing port %d: %w", port, err)
	}
	if err := m.Pump.WaitUntilReady(); err != nil {
		return fmt.Errorf("acq: waiting for pump: %w", err)
	}
	return nil
}

// Run iterates the media
func (m MediumDriver) Run(ctx context.Context, next Procedure) (err error) {
	if err = m.Pump.WaitUntilReady(); err != nil {
		return fmt.Errorf("acq: waiting for pump: %w", err)
	}
	if pr, ok := m.Pump.(fluidics.PortReader); ok {
		if last, ok := pr.LastPort(); ok {
			defer restore(ctx, &err, "medium", func() error { return m.exchange(last) })
		}
	}

	for _, v := range m.Values {
		if err = cancelled(ctx); err != nil {
			return err
		}
		if err = m.exchange(int(v)); err != nil {
			return err
		}
		if err = next(ctx); err != nil {
			return err
		}
		if err = sleep(ctx, m.Cfg.MediumSettle); err != nil {
			return err
		}
	}
	return nil
}

// NewDriver returns the driver for a dimension over the devices
func NewDriver(d Dimension, dev Devices, cfg Config) (Driver, error) {
	switch d.Kind {
	case Wavelength:
		return WavelengthDriver{Laser: dev.Laser, Values: d.Values, Cfg: cfg}, nil
	case Defocus:
		return DefocusDriver{Stage: dev.Stage, Values: d.Values, Cfg: cfg}, nil
	case Medium:
		return MediumDriver{Pump: dev.Pump, Ports: dev.Ports, Values: d.Values, Cfg: cfg}, nil
	default:
		return nil, ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
}
