package acq

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/improc"
	"github.com/nasa-jpl/labsweep/util"
)

// Dataset is a row-major N-D array, slowest axis first
type Dataset struct {
	Shape []int
	Data  []uint16
}

// Result is the product of a completed run
type Result struct {
	ID   string
	Name string
	Kind string

	// Raw holds every captured frame, shaped sweep + [record] + [H, W]
	Raw Dataset

	// Preview holds one background subtracted frame per sweep point, shaped
	// sweep + [H, W].  It is empty for raw snapshots.
	Preview Dataset

	// Background is the common background of a background snapshot
	Background camera.Frame

	Metadata map[string]interface{}
}

// Assemble reshapes the flat capture sequence into leading + [H, W].  The
// number of photos must equal the product of leading and every photo must
// share one frame shape.
func Assemble(photos []camera.Frame, leading []int) (Dataset, error) {
	want := util.Product(leading)
	if len(photos) != want {
		return Dataset{}, ShapeError{Want: want, Got: len(photos)}
	}
	if want == 0 {
		return Dataset{Shape: append(copyInts(leading), 0, 0)}, nil
	}
	fs := photos[0].Shape()
	data := make([]uint16, 0, want*fs[0]*fs[1])
	for i, p := range photos {
		if s := p.Shape(); s != fs {
			return Dataset{}, ShapeError{Want: want, Got: len(photos),
				Detail: fmt.Sprintf("frame %d is %dx%d, frame 0 is %dx%d", i, s[0], s[1], fs[0], fs[1])}
		}
		data = append(data, p.Values()...)
	}
	return Dataset{Shape: append(copyInts(leading), fs[0], fs[1]), Data: data}, nil
}

// Previews computes the preview of every sample record.  photos holds
// product(sweepShape) records of shots + BackgroundShots frames.
func Previews(photos []camera.Frame, sweepShape []int, shots int) (Dataset, error) {
	rl := shots + BackgroundShots
	points := util.Product(sweepShape)
	if len(photos) != points*rl {
		return Dataset{}, ShapeError{Want: points * rl, Got: len(photos)}
	}
	fs := photos[0].Shape()
	data := make([]uint16, 0, points*fs[0]*fs[1])
	for p := 0; p < points; p++ {
		planes := make([][]float64, rl)
		for i, f := range photos[p*rl : (p+1)*rl] {
			planes[i] = improc.Plane(f)
		}
		pv, err := improc.Preview(planes[:shots], planes[shots:])
		if err != nil {
			return Dataset{}, ShapeError{Want: points * rl, Got: len(photos),
				Detail: fmt.Sprintf("preview of point %d: %v", p, err)}
		}
		data = append(data, pv...)
	}
	return Dataset{Shape: append(copyInts(sweepShape), fs[0], fs[1]), Data: data}, nil
}

// BackgroundFrame estimates the common background of the photos
func BackgroundFrame(photos []camera.Frame) (camera.Frame, error) {
	if len(photos) == 0 {
		return camera.Frame{}, ShapeError{Want: 1, Got: 0}
	}
	planes := make([][]float64, len(photos))
	for i, f := range photos {
		planes[i] = improc.Plane(f)
	}
	bg, err := improc.CommonBackground(planes)
	if err != nil {
		return camera.Frame{}, ShapeError{Want: len(photos), Got: len(photos), Detail: err.Error()}
	}
	fs := photos[0].Shape()
	return camera.FrameFromValues(improc.ToUint16(bg), fs[1], fs[0], time.Now()), nil
}

func copyInts(is []int) []int {
	out := make([]int, len(is), len(is)+2)
	copy(out, is)
	return out
}
