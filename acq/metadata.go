package acq

import (
	"github.com/nasa-jpl/labsweep/fluidics"
	"github.com/nasa-jpl/labsweep/generichttp/laser"
	"github.com/nasa-jpl/labsweep/mathx"
)

// metadata keys
const (
	KeyRunID         = "Run.id"
	KeyRunKind       = "Run.kind"
	KeyFPS           = "Camera.fps"
	KeyExposure      = "Camera.exposure_time [us]"
	KeyPixelSize     = "Camera.pixel_size [um]"
	KeyAveraging     = "Camera.averaging"
	KeyMagnification = "Setup.magnification"
	KeyWavelength    = "Laser.wavelength [nm]"
	KeyBandwidth     = "Laser.bandwidth [nm]"
	KeyRepRate       = "Laser.frequency [kHz]"
	KeyDefocus       = "Setup.defocus [um]"
	KeyMedium        = "Fluidics.medium [port]"
	KeyStageZ        = "Stage.z [um]"
)

// NotAvailable is recorded for values that could not be read
const NotAvailable = "n/a"

// kindKeys maps each sweep kind to its metadata key
var kindKeys = map[Kind]string{
	Wavelength: KeyWavelength,
	Defocus:    KeyDefocus,
	Medium:     KeyMedium,
}

// Metadata describes the setup of a run.  Each kind active in req is recorded
// as a Range, each inactive kind as the current value of its device.  It
// queries the devices, so it is called on the worker before the chain runs.
func Metadata(dev Devices, cfg Config, id, kind string, averaging int, req Request) map[string]interface{} {
	md := map[string]interface{}{
		KeyRunID:         id,
		KeyRunKind:       kind,
		KeyPixelSize:     cfg.PixelSize,
		KeyAveraging:     averaging,
		KeyMagnification: cfg.Magnification,
		KeyFPS:           NotAvailable,
		KeyExposure:      NotAvailable,
		KeyBandwidth:     NotAvailable,
		KeyStageZ:        NotAvailable,
	}
	if dev.Camera != nil {
		if fps, err := dev.Camera.FrameRate(); err == nil {
			md[KeyFPS] = fps
		}
		if auto, us, err := dev.Camera.Exposure(); err == nil {
			if auto {
				md[KeyExposure] = "auto"
			} else {
				md[KeyExposure] = us
			}
		}
	}

	laserOpen := dev.Laser != nil && dev.Laser.IsOpen()
	if laserOpen {
		if bw, err := dev.Laser.Bandwidth(); err == nil {
			md[KeyBandwidth] = mathx.Round(bw, 0.1)
		}
		if rr, ok := dev.Laser.(laser.RepetitionRater); ok {
			if khz, err := rr.RepetitionRate(); err == nil {
				md[KeyRepRate] = khz
			}
		}
	}
	if dev.Stage != nil && dev.Stage.ZAvailable() {
		if z, err := dev.Stage.Z(); err == nil {
			md[KeyStageZ] = mathx.Round(z, 0.001)
		}
	}

	for _, k := range Kinds {
		if d, ok := req.Dimension(k); ok {
			md[kindKeys[k]] = d.Range()
			continue
		}
		md[kindKeys[k]] = staticValue(k, dev, laserOpen)
	}
	return md
}

func staticValue(k Kind, dev Devices, laserOpen bool) interface{} {
	switch k {
	case Wavelength:
		if laserOpen {
			if nm, err := dev.Laser.Wavelength(); err == nil {
				return mathx.Round(nm, 0.1)
			}
		}
	case Defocus:
		// defocus is an offset from KeyStageZ, which holds the absolute focus
		return 0.
	case Medium:
		if pr, ok := dev.Pump.(fluidics.PortReader); ok {
			if port, ok := pr.LastPort(); ok {
				return port
			}
		}
	}
	return NotAvailable
}

// RangeEntries returns the keys of md holding a Range
func RangeEntries(md map[string]interface{}) []string {
	var keys []string
	for _, k := range Kinds {
		if _, ok := md[kindKeys[k]].(Range); ok {
			keys = append(keys, kindKeys[k])
		}
	}
	return keys
}
