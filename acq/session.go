package acq

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/labsweep/camera"
)

// State is the lifecycle state of a session
type State int

const (
	// Idle means no run has been started
	Idle State = iota

	// Running means the worker is walking the chain
	Running

	// Completed means the chain returned and the result was assembled
	Completed

	// Cancelled means the run was stopped by the operator; there is no result
	Cancelled

	// Failed means a device command or the assembly failed; there is no result
	Failed
)

var stateNames = map[State]string{
	Idle:      "idle",
	Running:   "running",
	Completed: "completed",
	Cancelled: "cancelled",
	Failed:    "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal returns true for the states a session ends in
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// MarshalText encodes the state as its name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state from its name
func (s *State) UnmarshalText(b []byte) error {
	str := strings.ToLower(string(b))
	for k, v := range stateNames {
		if v == str {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("acq: unknown state %q", string(b))
}

// Event is sent to observers at every transition of a session
type Event struct {
	ID      string
	Kind    string
	State   State
	Err     error
	Result  *Result
	Frames  int
	Retries uint64
	Elapsed time.Duration
}

// Observer is notified of session transitions.  Observe is called from the
// goroutine that made the transition and must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to an Observer
type ObserverFunc func(Event)

// Observe calls f(e)
func (f ObserverFunc) Observe(e Event) { f(e) }

// Status is a snapshot of the current or most recent session
type Status struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	State   State  `json:"state"`
	Running bool   `json:"running"`
	Frames  int    `json:"frames"`
	Retries uint64 `json:"retries"`
	Error   string `json:"error,omitempty"`
}

// Session is the state of one run.  The state fields are guarded by the
// orchestrator's mutex; photos are only touched by the worker until the
// session is terminal.
type Session struct {
	ID      string
	Kind    string
	Request Request
	State   State
	Err     error
	Result  *Result
	Started time.Time
	Ended   time.Time

	shots     int
	offsets   bool
	photos    []camera.Frame
	frames    atomic.Int64
	sync      *Synchronizer
	cancel    context.CancelFunc
	done      chan struct{}
	abandoned bool
}

// store appends a frame to the photo buffer; worker only
func (s *Session) store(f camera.Frame) {
	s.photos = append(s.photos, f)
	s.frames.Add(1)
}

// leading is the shape of the dataset ahead of the frame axes
func (s *Session) leading() []int {
	shape := s.Request.Shape()
	if !s.offsets && s.shots == 1 && len(shape) == 0 {
		return nil
	}
	return append(shape, s.shots+boolToInt(s.offsets)*BackgroundShots)
}

func (s *Session) event() Event {
	e := Event{ID: s.ID, Kind: s.Kind, State: s.State, Err: s.Err, Result: s.Result,
		Frames: int(s.frames.Load())}
	if s.sync != nil {
		e.Retries = s.sync.Retries()
	}
	if !s.Ended.IsZero() {
		e.Elapsed = s.Ended.Sub(s.Started)
	}
	return e
}

func (s *Session) status() Status {
	e := s.event()
	st := Status{ID: e.ID, Kind: e.Kind, State: e.State, Running: e.State == Running,
		Frames: e.Frames, Retries: e.Retries}
	if e.Err != nil {
		st.Error = e.Err.Error()
	}
	return st
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
