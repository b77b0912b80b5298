package improc

import (
	"math"
	"testing"
	"time"

	"github.com/nasa-jpl/labsweep/camera"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMean(t *testing.T) {
	m, err := Mean([][]float64{{1, 2}, {3, 6}})
	if err != nil {
		t.Fatal(err)
	}
	if m[0] != 2 || m[1] != 4 {
		t.Errorf("expected [2 4], got %v", m)
	}
	if _, err := Mean([][]float64{{1}, {1, 2}}); err != ErrShape {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestBackgroundSubtracted(t *testing.T) {
	d, err := BackgroundSubtracted([]float64{150, 50, 0, 3}, []float64{100, 100, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	exp := []float64{0.5, -0.5, 0, 1}
	for i := range exp {
		if !approx(d[i], exp[i]) {
			t.Errorf("pixel %d: expected %f, got %f", i, exp[i], d[i])
		}
	}
}

func TestFloatToMono(t *testing.T) {
	got := FloatToMono([]float64{-2, -1, 0, 1, 5})
	exp := []uint16{0, 0, 32767, 65534, 65534}
	for i := range exp {
		if got[i] != exp[i] {
			t.Errorf("index %d: expected %d, got %d", i, exp[i], got[i])
		}
	}
}

func TestCommonBackgroundRejectsOutlier(t *testing.T) {
	// pixel 0: two frames agree, one has a feature in it
	// pixel 1: all frames agree
	bgs := [][]float64{
		{1000, 500},
		{1000, 500},
		{3000, 500},
	}
	bg, err := CommonBackground(bgs)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(bg[0]-1000) > 1e-3 {
		t.Errorf("expected the outlier to be rejected, got %f", bg[0])
	}
	if !approx(bg[1], 500) {
		t.Errorf("expected 500, got %f", bg[1])
	}
}

func TestCommonBackgroundFallsBackToMean(t *testing.T) {
	// nothing agrees with anything, so all weights underflow to zero
	bgs := [][]float64{{10000}, {1000}, {100}}
	bg, err := CommonBackground(bgs)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(bg[0], 3700) {
		t.Errorf("expected the plain mean 3700, got %f", bg[0])
	}
}

func TestPreviewOfFlatFieldIsMidscale(t *testing.T) {
	f := camera.FrameFromValues([]uint16{200, 200, 200, 200}, 2, 2, time.Now())
	p := Plane(f)
	out, err := Preview([][]float64{p, p}, [][]float64{p, p, p})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != 32767 {
			t.Errorf("pixel %d: expected 32767, got %d", i, v)
		}
	}
}

func TestToUint16Saturates(t *testing.T) {
	got := ToUint16([]float64{-5, 12.7, 70000, math.NaN()})
	exp := []uint16{0, 12, 65535, 0}
	for i := range exp {
		if got[i] != exp[i] {
			t.Errorf("index %d: expected %d, got %d", i, exp[i], got[i])
		}
	}
}
