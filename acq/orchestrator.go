/*
Package acq runs acquisitions: nested sweeps over wavelength, defocus and
medium, sampled with a camera and reassembled into N-D datasets.

A run is a chain of dimension drivers folded onto a terminal Sampler.  The
Orchestrator validates a request against the devices, starts the chain on one
worker goroutine, and hands the assembled Result to its observers.  At most
one run is active at a time.

Cancellation is cooperative: drivers look for it at the top of every loop
iteration and inside every settle delay, and the Synchronizer looks for it
while waiting for a frame.  A cancelled run leaves the devices wherever they
were and produces nothing.  HardStop abandons a worker that does not return,
for example one stuck in a vendor call; the devices may then be left in a
transient state.
*/
package acq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/fluidics"
	"github.com/nasa-jpl/labsweep/generichttp/laser"
	gmotion "github.com/nasa-jpl/labsweep/generichttp/motion"
)

// SnapshotMode selects what a snapshot captures
type SnapshotMode string

const (
	// Averaged captures one sample record, Shots frames plus the background
	// frames
	Averaged SnapshotMode = "averaged"

	// Raw captures a single frame
	Raw SnapshotMode = "raw"

	// BackgroundMode captures one frame at the anchor and one at each
	// background position, and estimates their common background
	BackgroundMode SnapshotMode = "background"
)

// ParseMode converts a string to a SnapshotMode, case insensitive.  The empty
// string is Averaged.
func ParseMode(s string) (SnapshotMode, error) {
	switch m := SnapshotMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Averaged, nil
	case Averaged, Raw, BackgroundMode:
		return m, nil
	default:
		return "", ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown snapshot mode %q", s)}
	}
}

// Devices is every instrument a run may command.  Laser and Pump may be nil
// when the setup has none.
type Devices struct {
	Camera camera.Streamer
	Stage  gmotion.Stage
	Laser  laser.Tunable
	Pump   fluidics.Pump
	Ports  fluidics.Ports
}

// Orchestrator runs acquisitions one at a time
type Orchestrator struct {
	// Log receives progress and failures
	Log *log.Logger

	dev Devices
	cfg Config

	mu         sync.Mutex
	cur        *Session
	background camera.Frame
	observers  []Observer
}

// New returns an orchestrator over the devices
func New(dev Devices, cfg Config) *Orchestrator {
	if cfg.Shots < 1 {
		cfg.Shots = 1
	}
	return &Orchestrator{Log: log.Default(), dev: dev, cfg: cfg}
}

// Config returns the acquisition configuration
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Subscribe adds an observer of session transitions
func (o *Orchestrator) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// plan is a run ready to be started
type plan struct {
	kind    string
	req     Request
	drivers []Driver
	shots   int
	offsets bool
}

// Snapshot captures at the current device state, without sweeping.  It
// returns the id of the run.
func (o *Orchestrator) Snapshot(mode SnapshotMode, name string) (string, error) {
	p := plan{kind: string(mode), req: Request{Name: name}}
	switch mode {
	case Averaged:
		p.shots, p.offsets = o.cfg.Shots, true
	case Raw:
		p.shots = 1
	case BackgroundMode:
		p.shots, p.offsets = 1, true
	default:
		return "", ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown snapshot mode %q", mode)}
	}
	if err := o.precheck(p.req, p.offsets); err != nil {
		return "", err
	}
	return o.start(p)
}

// Sweep starts a sweep over the request's dimensions, outermost first.  It
// returns the id of the run.
func (o *Orchestrator) Sweep(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := o.precheck(req, true); err != nil {
		return "", err
	}
	p := plan{kind: "sweep", req: req, shots: o.cfg.Shots, offsets: true}
	for _, d := range req.Dimensions {
		drv, err := NewDriver(d, o.dev, o.cfg)
		if err != nil {
			return "", err
		}
		p.drivers = append(p.drivers, drv)
	}
	return o.start(p)
}

// precheck verifies the devices a run needs are open and the requested values
// are reachable
func (o *Orchestrator) precheck(req Request, offsets bool) error {
	if o.Busy() {
		return ErrAlreadyAcquiring
	}
	if o.dev.Camera == nil || !o.dev.Camera.StreamValid() {
		return PreconditionError{Reason: "camera is not streaming"}
	}
	if offsets && (o.dev.Stage == nil || !o.dev.Stage.XYAvailable()) {
		return PreconditionError{Reason: "stage XY is not available"}
	}
	for _, d := range req.Dimensions {
		switch d.Kind {
		case Wavelength:
			if o.dev.Laser == nil || !o.dev.Laser.IsOpen() {
				return PreconditionError{Reason: "illumination is not open"}
			}
			bw, err := o.dev.Laser.Bandwidth()
			if err != nil {
				return PreconditionError{Reason: fmt.Sprintf("reading bandwidth: %v", err)}
			}
			lo, hi := laser.CenterLimits(bw)
			for _, v := range d.Values {
				if v < lo || v > hi {
					return PreconditionError{Reason: fmt.Sprintf(
						"wavelength %v nm is outside [%v, %v] for a %v nm bandwidth", v, lo, hi, bw)}
				}
			}
		case Defocus:
			if o.dev.Stage == nil || !o.dev.Stage.ZAvailable() {
				return PreconditionError{Reason: "focus axis is not available"}
			}
		case Medium:
			if o.dev.Pump == nil || !o.dev.Pump.IsOpen() {
				return PreconditionError{Reason: "pump is not open"}
			}
			for _, v := range d.Values {
				if err := o.dev.Ports.CheckPickUp(int(v)); err != nil {
					return ValidationError{Field: string(Medium), Reason: err.Error()}
				}
			}
		}
	}
	return nil
}

// start creates the session and launches the worker
func (o *Orchestrator) start(p plan) (string, error) {
	o.mu.Lock()
	if o.cur != nil && o.cur.State == Running {
		o.mu.Unlock()
		return "", ErrAlreadyAcquiring
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      uuid.NewString(),
		Kind:    p.kind,
		Request: p.req,
		State:   Running,
		Started: time.Now(),
		shots:   p.shots,
		offsets: p.offsets,
		sync:    NewSynchronizer(o.dev.Camera, o.cfg.FrameTimeout, o.Log),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.cur = s
	obs := append([]Observer(nil), o.observers...)
	ev := s.event()
	o.mu.Unlock()

	o.Log.Printf("acq: %s run %s started, shape %v", s.Kind, s.ID, s.Request.Shape())
	notify(obs, ev)

	smp := Sampler{Stage: o.dev.Stage, Grabber: s.sync, Shots: p.shots, Offsets: p.offsets, Cfg: o.cfg, Sink: s.store}
	go o.work(ctx, s, Compose(p.drivers, smp.Run))
	return s.ID, nil
}

// work is the body of the worker goroutine
func (o *Orchestrator) work(ctx context.Context, s *Session, chain Procedure) {
	md := Metadata(o.dev, o.cfg, s.ID, s.Kind, s.shots, s.Request)
	err := chain(ctx)
	if err == nil && ctx.Err() != nil {
		// cancelled after the last restoration point
		err = ErrCancelled
	}

	var res *Result
	state := Completed
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, ErrCancelled)):
		state, err = Cancelled, nil
	case err != nil:
		state = Failed
	default:
		res, err = o.assemble(s, md)
		if err != nil {
			state = Failed
		}
	}

	o.mu.Lock()
	if s.abandoned {
		o.mu.Unlock()
		o.Log.Printf("acq: abandoned run %s returned, discarding %d frames", s.ID, len(s.photos))
		return
	}
	s.State, s.Err, s.Result, s.Ended = state, err, res, time.Now()
	s.photos = nil
	s.cancel()
	if res != nil && res.Background.Gray16 != nil {
		o.background = res.Background
	}
	obs := append([]Observer(nil), o.observers...)
	ev := s.event()
	o.mu.Unlock()

	switch state {
	case Failed:
		o.Log.Printf("acq: run %s failed after %v: %v", s.ID, ev.Elapsed, err)
	default:
		o.Log.Printf("acq: run %s %v after %v, %d frames, %d retries", s.ID, state, ev.Elapsed, ev.Frames, ev.Retries)
	}
	notify(obs, ev)
	close(s.done)
}

// assemble builds the result of a completed session
func (o *Orchestrator) assemble(s *Session, md map[string]interface{}) (*Result, error) {
	res := &Result{ID: s.ID, Name: s.Request.Name, Kind: s.Kind, Metadata: md}
	raw, err := Assemble(s.photos, s.leading())
	if err != nil {
		return nil, err
	}
	res.Raw = raw
	if !s.offsets {
		return res, nil
	}
	if s.Kind == string(BackgroundMode) {
		bg, err := BackgroundFrame(s.photos)
		if err != nil {
			return nil, err
		}
		sh := bg.Shape()
		res.Background = bg
		res.Preview = Dataset{Shape: []int{sh[0], sh[1]}, Data: bg.Values()}
		return res, nil
	}
	pv, err := Previews(s.photos, s.Request.Shape(), s.shots)
	if err != nil {
		return nil, err
	}
	res.Preview = pv
	return res, nil
}

func notify(obs []Observer, e Event) {
	for _, ob := range obs {
		ob.Observe(e)
	}
}

// Cancel stops the active run at its next cancellation point.  It is safe to
// call at any time, any number of times.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur != nil && o.cur.State == Running {
		o.cur.cancel()
	}
}

// HardStop abandons the active run without waiting for the worker.  The
// session is marked Cancelled and a new run may start immediately; whatever
// the abandoned worker produces is discarded.  The devices may be left in a
// transient state.  It returns false if nothing was running.
func (o *Orchestrator) HardStop() bool {
	o.mu.Lock()
	s := o.cur
	if s == nil || s.State != Running {
		o.mu.Unlock()
		return false
	}
	s.abandoned = true
	s.cancel()
	s.State, s.Ended = Cancelled, time.Now()
	obs := append([]Observer(nil), o.observers...)
	ev := s.event()
	o.mu.Unlock()

	o.Log.Printf("acq: hard stop, worker of run %s abandoned; devices may be in a transient state", s.ID)
	notify(obs, ev)
	close(s.done)
	return true
}

// Busy returns true while a run is active
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cur != nil && o.cur.State == Running
}

// Status describes the current or most recent run
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return Status{State: Idle}
	}
	return o.cur.status()
}

// Wait blocks until the current run is terminal or ctx is done, and returns
// its status
func (o *Orchestrator) Wait(ctx context.Context) (Status, error) {
	o.mu.Lock()
	s := o.cur
	o.mu.Unlock()
	if s == nil {
		return Status{State: Idle}, nil
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return o.Status(), ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return s.status(), nil
}

// LastResult returns the result of the most recent run, if it completed
func (o *Orchestrator) LastResult() (*Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil || o.cur.Result == nil {
		return nil, false
	}
	return o.cur.Result, true
}

// Background returns the most recent background estimate
func (o *Orchestrator) Background() (camera.Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.background, o.background.Gray16 != nil
}
