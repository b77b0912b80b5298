// Package motion provides an HTTP interface to motion controllers and the
// stages built from them
package motion

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/labsweep/generichttp"
	"github.com/nasa-jpl/labsweep/util"
)

// Mover describes an interface with position-related methods for axes
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position, blocking until it is in
	// position
	MoveAbs(string, float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error

	// Home homes an axis
	Home(string) error
}

// Stage is a microscope stage with a lateral XY pair and a focus axis Z.
// Positions are in microns.
type Stage interface {
	// XY returns the lateral position
	XY() (float64, float64, error)

	// SetXY moves laterally, blocking until settled
	SetXY(x, y float64) error

	// Z returns the focus position
	Z() (float64, error)

	// SetZ moves the focus, blocking until settled
	SetZ(z float64) error

	// XYAvailable returns true if the lateral axes can be commanded
	XYAvailable() bool

	// ZAvailable returns true if the focus axis can be commanded
	ZAvailable() bool
}

// Limiter is a stage or controller with software travel limits
type Limiter interface {
	// Limits returns the travel limits of an axis, false if there are none
	Limits(string) (util.Limiter, bool)
}

// XY is a lateral position
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/home"}] = Home(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(iface)
}

// GetPos returns an HTTP handler func from a mover that gets the position of an axis
func GetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		pos, err := m.GetPos(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: pos}
		hp.EncodeAndRespond(w, r)
	}
}

func popAxisRelative(r *http.Request) (string, bool, error) {
	axis := chi.URLParam(r, "axis")
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	b, err := strconv.ParseBool(relative)
	return axis, b, err
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute or
// relative move on an axis based on the relative query parameter
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, b, err := popAxisRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if b {
			err = m.MoveRel(axis, f.F64)
		} else {
			err = m.MoveAbs(axis, f.F64)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Home returns an HTTP handler func from a mover that homes an axis
func Home(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		err := m.Home(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Limits returns an HTTP handler func that returns the limits for an axis,
// or null if it has none
func Limits(l Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		lim, ok := l.Limits(axis)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		var err error
		if !ok {
			err = json.NewEncoder(w).Encode(nil)
		} else {
			err = json.NewEncoder(w).Encode(lim)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// GetXY returns an HTTP handler func that returns the lateral position as
// {"x": .., "y": ..}
func GetXY(s Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		x, y, err := s.XY()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(XY{X: x, Y: y})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// SetXY returns an HTTP handler func that moves laterally to {"x": .., "y": ..}
func SetXY(s Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		xy := XY{}
		err := json.NewDecoder(r.Body).Decode(&xy)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = s.SetXY(xy.X, xy.Y)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPStage wraps a Stage with HTTP
type HTTPStage struct {
	Stage

	RouteTable generichttp.RouteTable
}

// NewHTTPStage returns a new HTTP wrapper with the route table pre-configured.
// If the stage is also a Mover or Limiter, the per-axis routes are added.
func NewHTTPStage(s Stage) HTTPStage {
	h := HTTPStage{Stage: s}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/xy"}:  GetXY(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/xy"}: SetXY(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/z"}:   generichttp.GetFloat(s.Z),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/z"}:  generichttp.SetFloat(s.SetZ),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/available"}: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]bool{"xy": s.XYAvailable(), "z": s.ZAvailable()})
		},
	}
	if mover, ok := interface{}(s).(Mover); ok {
		HTTPMove(mover, rt)
	}
	if lim, ok := interface{}(s).(Limiter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(lim)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the HTTPer interface
func (h HTTPStage) RT() generichttp.RouteTable {
	return h.RouteTable
}
