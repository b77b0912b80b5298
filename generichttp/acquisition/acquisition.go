// Package acquisition provides an HTTP interface to the acquisition orchestrator
package acquisition

import (
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"net/http"

	"github.com/nasa-jpl/labsweep/acq"
	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/generichttp"
	gcamera "github.com/nasa-jpl/labsweep/generichttp/camera"
)

// Orchestrator is the set of acquisition commands exposed over HTTP
type Orchestrator interface {
	Snapshot(acq.SnapshotMode, string) (string, error)
	Sweep(acq.Request) (string, error)
	Cancel()
	HardStop() bool
	Status() acq.Status
	Background() (camera.Frame, bool)
}

// SnapshotRequest is the body of a snapshot request
type SnapshotRequest struct {
	Mode string `json:"mode"`
	Name string `json:"name"`
}

// Started is the response to a request that started a run
type Started struct {
	ID string `json:"id"`
}

// StatusCode maps an error from the orchestrator to an HTTP status:
// bad requests and unmet preconditions are 400, a run already in progress is
// 409, anything else 500
func StatusCode(err error) int {
	var (
		pe acq.PreconditionError
		ve acq.ValidationError
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, acq.ErrAlreadyAcquiring):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondStarted(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	err := json.NewEncoder(w).Encode(Started{ID: id})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Snapshot starts a snapshot.  An empty body is an averaged snapshot.
func Snapshot(o Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := SnapshotRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mode, err := acq.ParseMode(req.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := o.Snapshot(mode, req.Name)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		respondStarted(w, id)
	}
}

// Sweep starts a sweep described by an acq.SweepRequest body
func Sweep(o Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr := acq.SweepRequest{}
		err := json.NewDecoder(r.Body).Decode(&sr)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := sr.Request()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := o.Sweep(req)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		respondStarted(w, id)
	}
}

// Cancel stops the active run, if any
func Cancel(o Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o.Cancel()
		w.WriteHeader(http.StatusOK)
	}
}

// HardStop abandons the active run and reports if there was one
func HardStop(o Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hp := generichttp.HumanPayload{T: types.Bool, Bool: o.HardStop()}
		hp.EncodeAndRespond(w, r)
	}
}

// Status returns the acq.Status as JSON
func Status(o Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(o.Status())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Background returns the last background estimate as an image; png unless the
// fmt query parameter says otherwise
func Background(o Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := o.Background()
		if !ok {
			http.Error(w, acq.ErrNoBackground.Error(), http.StatusNotFound)
			return
		}
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "png"
		}
		if err := gcamera.EncodeFrame(w, f, format); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HTTPAcquisition wraps an orchestrator in an HTTP route table
type HTTPAcquisition struct {
	// Orch is the underlying orchestrator
	Orch Orchestrator

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPAcquisition returns a new HTTP wrapper around an orchestrator
func NewHTTPAcquisition(o Orchestrator) HTTPAcquisition {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/snapshot"}:  Snapshot(o),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep"}:     Sweep(o),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/cancel"}:    Cancel(o),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/hard-stop"}: HardStop(o),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:     Status(o),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/background"}: Background(o),
	}
	return HTTPAcquisition{Orch: o, RouteTable: rt}
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPAcquisition) RT() generichttp.RouteTable {
	return h.RouteTable
}
