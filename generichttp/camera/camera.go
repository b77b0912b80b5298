// Package camera provides a generic HTTP interface to a streaming camera
package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"time"

	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/generichttp"
	"github.com/nasa-jpl/labsweep/imgrec"
	"github.com/nasa-jpl/labsweep/improc"
	"github.com/nasa-jpl/labsweep/util"
)

// Exposure is the JSON form of a camera's exposure state
type Exposure struct {
	Auto bool `json:"auto"`
	Us   int  `json:"us"`
}

// BackgroundFunc returns the current background frame, false if there is none
type BackgroundFunc func() (camera.Frame, bool)

// EncodeFrame writes a frame to w as png, jpg or fits.  png and jpg are
// reduced to 8 bits.
func EncodeFrame(w http.ResponseWriter, f camera.Frame, format string) error {
	s := f.Shape()
	h, wd := s[0], s[1]
	vals := f.Values()
	if format == "fits" {
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		return imgrec.WriteFits(w, nil, []int{h, wd}, vals)
	}
	buf := make([]byte, len(vals))
	for idx, v := range vals {
		buf[idx] = byte(v / 256) // scale 16 to 8 bits
	}
	im := &image.Gray{Pix: buf, Stride: wd, Rect: image.Rect(0, 0, wd, h)}
	switch format {
	case "png":
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		return png.Encode(w, im)
	default:
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		return jpeg.Encode(w, im, nil)
	}
}

// GetFrame grabs one frame and returns it on a GET request.
//
// the image format may be specified in the fmt query parameter; default to jpg.
//
// with subtract=true and a background available, the frame is normalized as
// (frame - background) / background and mapped to 16 bits, as in the
// acquisition previews.
func GetFrame(g camera.Grabber, bg BackgroundFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f, err := g.CaptureOne(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if q.Get("subtract") == "true" && bg != nil {
			if b, ok := bg(); ok && b.Shape() == f.Shape() {
				d, err := improc.BackgroundSubtracted(improc.Plane(f), improc.Plane(b))
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				s := f.Shape()
				f = camera.FrameFromValues(improc.FloatToMono(d), s[1], s[0], f.Timestamp)
			}
		}
		err = EncodeFrame(w, f, q.Get("fmt"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// GetExposure returns the exposure state as {"auto": .., "us": ..}
func GetExposure(s camera.Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auto, us, err := s.Exposure()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(Exposure{Auto: auto, Us: us})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// SetExposure sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration (a bare number is taken
// as seconds), or a json payload with key f64, holding the exposure time in
// seconds.
func SetExposure(e camera.ExposureSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			if util.AllElementsNumbers(texp) {
				texp = texp + "s"
			}
			d, err = time.ParseDuration(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = e.SetExposure(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetAOI returns the AOI as JSON on a GET request
func GetAOI(a camera.AOIManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoi, err := a.GetAOI()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(aoi)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// SetAOI sets the AOI from a JSON body {"left", "top", "width", "height"} on
// a POST request.  A change of AOI invalidates any background, which is only
// applied to frames of its own shape.
func SetAOI(a camera.AOIManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoi := camera.AOI{}
		err := json.NewDecoder(r.Body).Decode(&aoi)
		defer r.Body.Close()
		if err != nil {
			fstr := fmt.Sprintf("error decoding json, should have fields left, top, width, height.  Error: %q", err)
			http.Error(w, fstr, http.StatusBadRequest)
			return
		}
		err = a.SetAOI(aoi)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, camera.ErrBadAOI) {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPCamera wraps a streaming camera in an HTTP route table
type HTTPCamera struct {
	// Cam is the underlying camera
	Cam camera.Streamer

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around a camera.  g pulls single
// frames out of the stream; bg, if not nil, supplies the background used by
// GET /frame?subtract=true.
func NewHTTPCamera(s camera.Streamer, g camera.Grabber, bg BackgroundFunc) HTTPCamera {
	h := HTTPCamera{Cam: s}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}:    GetFrame(g, bg),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure"}: GetExposure(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/fps"}:      generichttp.GetFloat(s.FrameRate),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/streaming"}: func(w http.ResponseWriter, r *http.Request) {
			hp := generichttp.HumanPayload{T: types.Bool, Bool: s.StreamValid()}
			hp.EncodeAndRespond(w, r)
		},
	}
	if e, ok := interface{}(s).(camera.ExposureSetter); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure"}] = SetExposure(e)
	}
	if a, ok := interface{}(s).(camera.AutoExposer); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure/auto"}] = generichttp.SetBool(a.SetAutoExposure)
	}
	if a, ok := interface{}(s).(camera.AOIManipulator); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/aoi"}] = GetAOI(a)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/aoi"}] = SetAOI(a)
	}
	if t, ok := interface{}(s).(camera.TriggerSwitcher); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/trigger-mode"}] = generichttp.GetBool(t.TriggerMode)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger-mode"}] = generichttp.SetBool(t.SetTriggerMode)
	}
	if c, ok := interface{}(s).(camera.StreamController); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/streaming"}] = generichttp.SetBool(func(b bool) error {
			if b {
				c.Start()
			} else {
				c.Stop()
			}
			return nil
		})
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}
