package acq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/labsweep/imgrec"
)

func wait(t *testing.T, o *Orchestrator) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := o.Wait(ctx)
	require.NoError(t, err)
	return st
}

func runToResult(t *testing.T, o *Orchestrator, req Request) *Result {
	t.Helper()
	_, err := o.Sweep(req)
	require.NoError(t, err)
	st := wait(t, o)
	require.Equal(t, Completed, st.State, "run ended with %q", st.Error)
	res, ok := o.LastResult()
	require.True(t, ok)
	return res
}

func TestWavelengthSweepExample(t *testing.T) {
	o, r := newTestOrchestrator(t)
	res := runToResult(t, o, Request{Dimensions: []Dimension{{Wavelength, []float64{500, 600}}}})

	if diff := cmp.Diff([]int{2, 13, frameH, frameW}, res.Raw.Shape); diff != "" {
		t.Errorf("raw shape mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, frameH, frameW}, res.Preview.Shape); diff != "" {
		t.Errorf("preview shape mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Range{Start: 500, Stop: 600, Number: 2}, res.Metadata[KeyWavelength])
	assert.Equal(t, []float64{500, 500, 600, 550}, r.laser.Sets())
}

func TestShapePerDimensionSet(t *testing.T) {
	wl := Dimension{Wavelength, []float64{500, 520, 540}}
	df := Dimension{Defocus, []float64{-1, 1}}
	md := Dimension{Medium, []float64{2, 3}}
	tests := []struct {
		name string
		dims []Dimension
		want []int
	}{
		{"none", nil, []int{13, frameH, frameW}},
		{"wavelength", []Dimension{wl}, []int{3, 13, frameH, frameW}},
		{"defocus", []Dimension{df}, []int{2, 13, frameH, frameW}},
		{"medium", []Dimension{md}, []int{2, 13, frameH, frameW}},
		{"defocus wavelength", []Dimension{df, wl}, []int{2, 3, 13, frameH, frameW}},
		{"medium wavelength defocus", []Dimension{md, wl, df}, []int{2, 3, 2, 13, frameH, frameW}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t)
			res := runToResult(t, o, Request{Dimensions: tt.dims})
			if diff := cmp.Diff(tt.want, res.Raw.Shape); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}

			assert.Len(t, RangeEntries(res.Metadata), len(tt.dims))
			for _, d := range tt.dims {
				assert.Equal(t, d.Range(), res.Metadata[kindKeys[d.Kind]])
			}
			for _, k := range Kinds {
				v, ok := res.Metadata[kindKeys[k]]
				assert.True(t, ok, "no metadata for %s", k)
				assert.NotNil(t, v)
			}
		})
	}
}

func TestSameRequestSameShape(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	req := Request{Dimensions: []Dimension{{Defocus, []float64{-1, 0, 1}}}}
	first := runToResult(t, o, req)
	second := runToResult(t, o, req)
	assert.Equal(t, first.Raw.Shape, second.Raw.Shape)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSnapshotModes(t *testing.T) {
	o, r := newTestOrchestrator(t)

	_, err := o.Snapshot(Averaged, "")
	require.NoError(t, err)
	require.Equal(t, Completed, wait(t, o).State)
	res, _ := o.LastResult()
	assert.Equal(t, []int{13, frameH, frameW}, res.Raw.Shape)
	assert.Equal(t, []int{frameH, frameW}, res.Preview.Shape)
	assert.Empty(t, RangeEntries(res.Metadata))
	assert.Equal(t, 550., res.Metadata[KeyWavelength])
	assert.Equal(t, 10., res.Metadata[KeyBandwidth])
	assert.Equal(t, 78000., res.Metadata[KeyRepRate])
	assert.Equal(t, 10, res.Metadata[KeyAveraging])
	// three background positions and the return to the anchor
	assert.Equal(t, [][2]float64{{104, 200}, {104, 204}, {100, 204}, {100, 200}}, r.stage.XYMoves())

	_, err = o.Snapshot(Raw, "")
	require.NoError(t, err)
	require.Equal(t, Completed, wait(t, o).State)
	res, _ = o.LastResult()
	assert.Equal(t, []int{frameH, frameW}, res.Raw.Shape)
	assert.Empty(t, res.Preview.Data)
	assert.Equal(t, 1, res.Metadata[KeyAveraging])

	_, ok := o.Background()
	assert.False(t, ok)
	_, err = o.Snapshot(BackgroundMode, "")
	require.NoError(t, err)
	require.Equal(t, Completed, wait(t, o).State)
	res, _ = o.LastResult()
	assert.Equal(t, []int{4, frameH, frameW}, res.Raw.Shape)
	bg, ok := o.Background()
	require.True(t, ok)
	assert.Equal(t, [2]int{frameH, frameW}, bg.Shape())
}

func TestPreconditionClosedLaser(t *testing.T) {
	o, r := newTestOrchestrator(t)
	var events eventLog
	o.Subscribe(&events)
	r.laser.open = false

	_, err := o.Sweep(Request{Dimensions: []Dimension{{Wavelength, []float64{500, 600}}}})
	var pe PreconditionError
	require.True(t, errors.As(err, &pe), "expected a PreconditionError, got %v", err)

	assert.Equal(t, Idle, o.Status().State)
	assert.False(t, o.Busy())
	assert.Empty(t, events.States())
	assert.Empty(t, r.laser.Sets())
	assert.Zero(t, r.cam.Delivered())
}

func TestPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*rig)
		req   Request
	}{
		{"stream", func(r *rig) { r.cam.Stop() }, Request{}},
		{"xy", func(r *rig) { r.stage.xyOK = false }, Request{}},
		{"z", func(r *rig) { r.stage.zOK = false }, Request{Dimensions: []Dimension{{Defocus, []float64{1}}}}},
		{"pump", func(r *rig) { r.pump.SetOpen(false) }, Request{Dimensions: []Dimension{{Medium, []float64{2}}}}},
		{"wavelength range", func(*rig) {}, Request{Dimensions: []Dimension{{Wavelength, []float64{392}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, r := newTestOrchestrator(t)
			tt.setup(r)
			_, err := o.Sweep(tt.req)
			var pe PreconditionError
			assert.True(t, errors.As(err, &pe), "expected a PreconditionError, got %v", err)
			assert.Equal(t, Idle, o.Status().State)
		})
	}
}

func TestForbiddenMediumPort(t *testing.T) {
	o, r := newTestOrchestrator(t)
	_, err := o.Sweep(Request{Dimensions: []Dimension{{Medium, []float64{2, 10}}}})
	var ve ValidationError
	assert.True(t, errors.As(err, &ve), "expected a ValidationError, got %v", err)
	assert.Empty(t, r.pump.Ops())
}

func TestAlreadyAcquiring(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.DefocusSettle = time.Hour
	_, err := o.Sweep(Request{Dimensions: []Dimension{{Defocus, []float64{1, 2}}}})
	require.NoError(t, err)
	assert.True(t, o.Busy())

	_, err = o.Snapshot(Raw, "")
	assert.ErrorIs(t, err, ErrAlreadyAcquiring)
	_, err = o.Sweep(Request{})
	assert.ErrorIs(t, err, ErrAlreadyAcquiring)

	o.Cancel()
	assert.Equal(t, Cancelled, wait(t, o).State)
}

func TestCancelDiscardsAndSkipsRestore(t *testing.T) {
	o, r := newTestOrchestrator(t)
	root := t.TempDir()
	o.Subscribe(Recorder(imgrec.New(root, "acq"), quietLog()))
	var events eventLog
	o.Subscribe(&events)
	o.cfg.DefocusSettle = time.Hour

	_, err := o.Sweep(Request{Dimensions: []Dimension{{Defocus, []float64{1, 2}}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.stage.ZMoves()) == 1 }, 5*time.Second, time.Millisecond)

	o.Cancel()
	o.Cancel()
	st := wait(t, o)
	assert.Equal(t, Cancelled, st.State)
	assert.False(t, st.Running)
	assert.False(t, o.Busy())
	assert.Empty(t, st.Error)
	_, ok := o.LastResult()
	assert.False(t, ok)

	// no restoring move back to z0
	assert.Equal(t, []float64{50 + 1*o.cfg.ZScale}, r.stage.ZMoves())
	assert.Equal(t, []State{Running, Cancelled}, events.States())

	files, err := filepath.Glob(filepath.Join(root, "*", "*"))
	require.NoError(t, err)
	assert.Empty(t, files)

	// a new run starts with an empty buffer
	o.cfg.DefocusSettle = 0
	res := runToResult(t, o, Request{Dimensions: []Dimension{{Defocus, []float64{1, 2}}}})
	assert.Equal(t, []int{2, 13, frameH, frameW}, res.Raw.Shape)
}

func TestCancelDuringReturnToAnchor(t *testing.T) {
	o, r := newTestOrchestrator(t)
	root := t.TempDir()
	o.Subscribe(Recorder(imgrec.New(root, "acq"), quietLog()))
	// the fourth move is the return to the anchor after the last frame
	r.stage.onSetXY = func(n int) {
		if n == 4 {
			o.Cancel()
		}
	}

	_, err := o.Sweep(Request{Dimensions: []Dimension{{Wavelength, []float64{500}}}})
	require.NoError(t, err)
	st := wait(t, o)
	assert.Equal(t, Cancelled, st.State)
	assert.Empty(t, st.Error)
	_, ok := o.LastResult()
	assert.False(t, ok)
	// the source was not restored to 550
	assert.Equal(t, []float64{500, 500}, r.laser.Sets())

	files, err := filepath.Glob(filepath.Join(root, "*", "*"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStaticDefocusIsRelativeToStageZ(t *testing.T) {
	r := newRig(t)
	md := Metadata(r.devices(), testConfig(), "id", "averaged", 1, Request{})
	assert.Equal(t, 0., md[KeyDefocus])
	assert.Equal(t, 50., md[KeyStageZ])

	md = Metadata(r.devices(), testConfig(), "id", "sweep", 1, Request{Dimensions: []Dimension{{Defocus, []float64{-1, 1}}}})
	assert.Equal(t, Range{Start: -1, Stop: 1, Number: 2}, md[KeyDefocus])
	assert.Equal(t, 50., md[KeyStageZ])
}

func TestRestoreAfterCompletion(t *testing.T) {
	o, r := newTestOrchestrator(t)
	require.NoError(t, r.pump.PickUp(4, 10))
	runToResult(t, o, Request{Dimensions: []Dimension{
		{Defocus, []float64{-1, 1}},
		{Medium, []float64{2}},
	}})

	s := o.cfg.ZScale
	assert.Equal(t, []float64{50 - s, 50 + s, 50}, r.stage.ZMoves())
	port, ok := r.pump.LastPort()
	require.True(t, ok)
	assert.Equal(t, 4, port)
}

func TestDeviceFailure(t *testing.T) {
	o, r := newTestOrchestrator(t)
	var events eventLog
	o.Subscribe(&events)
	r.laser.failAt = 600

	_, err := o.Sweep(Request{Dimensions: []Dimension{{Wavelength, []float64{500, 600}}}})
	require.NoError(t, err)
	st := wait(t, o)
	assert.Equal(t, Failed, st.State)
	assert.Contains(t, st.Error, "600")
	assert.False(t, o.Busy())

	last := events.Last()
	assert.Equal(t, Failed, last.State)
	assert.ErrorIs(t, last.Err, errDevice)
	assert.Nil(t, last.Result)
	// the failure is not a cancellation, so the source is restored
	sets := r.laser.Sets()
	assert.Equal(t, 550., sets[len(sets)-1])
}

func TestHardStopAbandonsStuckWorker(t *testing.T) {
	o, r := newTestOrchestrator(t)
	var events eventLog
	o.Subscribe(&events)
	hold := make(chan struct{})
	r.stage.hold = hold

	_, err := o.Sweep(Request{Dimensions: []Dimension{{Defocus, []float64{1, 2}}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.stage.ZMoves()) == 1 }, 5*time.Second, time.Millisecond)

	assert.True(t, o.HardStop())
	assert.False(t, o.HardStop())
	assert.False(t, o.Busy())
	assert.Equal(t, Cancelled, wait(t, o).State)

	// the orchestrator is free while the old worker is still stuck
	r.stage.mu.Lock()
	r.stage.hold = nil
	r.stage.mu.Unlock()
	id, err := o.Snapshot(Raw, "")
	require.NoError(t, err)
	assert.Equal(t, Completed, wait(t, o).State)

	close(hold)
	time.Sleep(50 * time.Millisecond)
	st := o.Status()
	assert.Equal(t, id, st.ID)
	assert.Equal(t, Completed, st.State)
	assert.Equal(t, []State{Running, Cancelled, Running, Completed}, events.States())
}

func TestEventsCarryProgress(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	var events eventLog
	o.Subscribe(&events)
	runToResult(t, o, Request{Dimensions: []Dimension{{Medium, []float64{2, 3}}}})

	assert.Equal(t, []State{Running, Completed}, events.States())
	last := events.Last()
	assert.Equal(t, 26, last.Frames)
	require.NotNil(t, last.Result)
	assert.Equal(t, "sweep", last.Kind)
	assert.Equal(t, 26, o.Status().Frames)
}

func TestRecorderWritesNamedResult(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	root := t.TempDir()
	o.Subscribe(Recorder(imgrec.New(root, "acq"), quietLog()))

	_, err := o.Snapshot(Averaged, "cells")
	require.NoError(t, err)
	require.Equal(t, Completed, wait(t, o).State)

	for _, pattern := range []string{"cells.fits", "cells_preview.fits", "cells.yaml"} {
		files, err := filepath.Glob(filepath.Join(root, "*", pattern))
		require.NoError(t, err)
		assert.Len(t, files, 1, pattern)
	}
}
