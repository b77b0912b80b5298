package fluidics

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/labsweep/generichttp"
)

// PortVolume is the body of a pickup or dispense request
type PortVolume struct {
	Port   int     `json:"port"`
	Volume float64 `json:"volume"`
}

func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, ErrForbiddenPort) {
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func portVolumeHandler(fcn func(int, float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pv := PortVolume{}
		err := json.NewDecoder(r.Body).Decode(&pv)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(pv.Port, pv.Volume)
		if err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPPump wraps a Pump in an HTTP route table
type HTTPPump struct {
	// Pump is the underlying pump
	Pump Pump

	// Ports is the valve plumbing
	Ports Ports

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPPump returns a new HTTP wrapper around a pump
func NewHTTPPump(p Pump, ports Ports) HTTPPump {
	h := HTTPPump{Pump: p, Ports: ports}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/open"}: generichttp.GetBool(func() (bool, error) {
			return p.IsOpen(), nil
		}),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/pickup"}:   portVolumeHandler(p.PickUp),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/dispense"}: portVolumeHandler(p.Dispense),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/flow"}: generichttp.SetFloat(func(ul float64) error {
			return Flow(p, ports, ul)
		}),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/wait"}:  h.Wait,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/clean"}: h.Clean,
	}
	if pr, ok := interface{}(p).(PortReader); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/last-port"}] = func(w http.ResponseWriter, r *http.Request) {
			port, ok := pr.LastPort()
			if !ok {
				http.Error(w, "no port has been drawn from yet", http.StatusNotFound)
				return
			}
			hp := generichttp.HumanPayload{T: types.Int, Int: port}
			hp.EncodeAndRespond(w, r)
		}
	}
	h.RouteTable = rt
	return h
}

// Wait blocks until the pump is idle
func (h HTTPPump) Wait(w http.ResponseWriter, r *http.Request) {
	err := h.Pump.WaitUntilReady()
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Clean rinses the ports given as {"ports": [..]}
func (h HTTPPump) Clean(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Ports []int `json:"ports"`
	}{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = Clean(h.Pump, h.Ports, req.Ports)
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPPump) RT() generichttp.RouteTable {
	return h.RouteTable
}
