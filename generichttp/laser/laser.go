// Package laser exposes control of tunable light sources over HTTP
package laser

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/nasa-jpl/labsweep/generichttp"
	"github.com/nasa-jpl/labsweep/mathx"
)

const (
	// MinWavelength is the shortest center wavelength the source can emit, nm
	MinWavelength = 390.

	// MaxWavelength is the longest center wavelength the source can emit, nm
	MaxWavelength = 850.
)

// CenterBandwidth is a struct holding the center wavelength (nm) and full bandwidth (nm) of a tunable filter
type CenterBandwidth struct {
	Center    float64 `json:"center"`
	Bandwidth float64 `json:"bandwidth"`
}

// ShortLongToCB converts short, long wavelengths to a CenterBandwidth struct
func ShortLongToCB(short, long float64) CenterBandwidth {
	center := (short + long) / 2
	bw := mathx.Round(math.Abs(long-short), 0.1)
	return CenterBandwidth{Center: center, Bandwidth: bw}
}

// ToShortLong converts a CenterBandwidth to (short, long)
func (cb CenterBandwidth) ToShortLong() (float64, float64) {
	hb := cb.Bandwidth / 2
	return cb.Center - hb, cb.Center + hb
}

// CenterLimits returns the range of center wavelengths reachable at a given
// bandwidth; the passband may not leave [MinWavelength, MaxWavelength]
func CenterLimits(bandwidth float64) (lo, hi float64) {
	hb := bandwidth / 2
	return MinWavelength + hb, MaxWavelength - hb
}

// Tunable is a light source whose center wavelength can be set
type Tunable interface {
	// IsOpen returns true if the source is connected and usable
	IsOpen() bool

	// SetWavelength sets the center wavelength in nm, keeping the bandwidth
	SetWavelength(float64) error

	// Wavelength returns the center wavelength in nm
	Wavelength() (float64, error)

	// Bandwidth returns the full bandwidth of the passband in nm
	Bandwidth() (float64, error)
}

// RepetitionRater is a source which can report its pulse repetition rate
type RepetitionRater interface {
	// RepetitionRate returns the pulse repetition rate in kHz
	RepetitionRate() (float64, error)
}

// Controller is a basic interface for laser controllers
type Controller interface {
	// SetEmission turns emission on or off
	SetEmission(bool) error

	// GetEmission queries if the laser is currently outputting
	GetEmission() (bool, error)
}

// SetEmission configures the output state of the laser
func SetEmission(c Controller) http.HandlerFunc {
	return generichttp.SetBool(c.SetEmission)
}

// GetEmission queries the output state of the laser
func GetEmission(c Controller) http.HandlerFunc {
	return generichttp.GetBool(c.GetEmission)
}

// BandwidthController can control the its output bandwidth
type BandwidthController interface {
	// GetCenterBandwidth returns the center wavelength and (full) bandwidth
	// of a controller.  To set the output to 500-600nm, Center=550, Bandwidth=100.
	GetCenterBandwidth() (CenterBandwidth, error)

	// SetCenterBandwidth sets the center wavelength and (full) bandwidth
	// of a controller. If output is 500-600nm, Center=550, Bandwidth=100.
	SetCenterBandwidth(CenterBandwidth) error
}

// GetCenterBandwidth retrieves the center/bandwidth as JSON
func GetCenterBandwidth(c BandwidthController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cbw, err := c.GetCenterBandwidth()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(cbw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// SetCenterBandwidth configures the center/bandwidth as JSON
func SetCenterBandwidth(c BandwidthController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cbw := CenterBandwidth{}
		err := json.NewDecoder(r.Body).Decode(&cbw)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lo, hi := CenterLimits(cbw.Bandwidth)
		if cbw.Center < lo || cbw.Center > hi {
			http.Error(w, "center wavelength outside of the tunable range", http.StatusBadRequest)
			return
		}
		err = c.SetCenterBandwidth(cbw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPLaserController wraps a Tunable in an HTTP route table
type HTTPLaserController struct {
	// Ctl is the underlying source
	Ctl Tunable

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPLaserController returns a new HTTP wrapper around an existing tunable source
func NewHTTPLaserController(ctl Tunable) HTTPLaserController {
	h := HTTPLaserController{Ctl: ctl}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/wvl/center"}:    generichttp.GetFloat(ctl.Wavelength),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/wvl/center"}:   generichttp.SetFloat(ctl.SetWavelength),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/wvl/bandwidth"}: generichttp.GetFloat(ctl.Bandwidth),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/open"}: generichttp.GetBool(func() (bool, error) {
			return ctl.IsOpen(), nil
		}),
	}
	if emctl, ok := interface{}(ctl).(Controller); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/emission"}] = GetEmission(emctl)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/emission"}] = SetEmission(emctl)
	}
	if bwctl, ok := interface{}(ctl).(BandwidthController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/wvl/center-bandwidth"}] = GetCenterBandwidth(bwctl)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/wvl/center-bandwidth"}] = SetCenterBandwidth(bwctl)
	}
	if rr, ok := interface{}(ctl).(RepetitionRater); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/reprate"}] = generichttp.GetFloat(rr.RepetitionRate)
	}
	h.RouteTable = rt
	return h
}

// RT safisfies the generichttp.HTTPer interface
func (h HTTPLaserController) RT() generichttp.RouteTable {
	return h.RouteTable
}
