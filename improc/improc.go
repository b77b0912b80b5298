// Package improc contains the pixel arithmetic used to turn raw frames into
// background-normalized previews.
//
// Images are handled as flat, row-major []float64 planes so that the gonum
// floats kernels can be used directly.
package improc

import (
	"errors"
	"math"

	"github.com/nasa-jpl/labsweep/camera"
	"gonum.org/v1/gonum/floats"
)

// WeightScale is the relative difference at which the agreement weight between
// two background frames falls to 1/e
const WeightScale = 0.004

// ErrShape is generated when planes of unequal size are combined
var ErrShape = errors.New("improc: planes are not the same size")

// Plane converts a frame to a row-major float plane
func Plane(f camera.Frame) []float64 {
	vals := f.Values()
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out
}

// ToUint16 truncates a plane to unsigned 16-bit integers, saturating at the
// ends of the range
func ToUint16(p []float64) []uint16 {
	out := make([]uint16, len(p))
	for i, v := range p {
		switch {
		case v <= 0 || math.IsNaN(v):
			out[i] = 0
		case v >= math.MaxUint16:
			out[i] = math.MaxUint16
		default:
			out[i] = uint16(v)
		}
	}
	return out
}

// Mean returns the per-pixel arithmetic mean of the planes
func Mean(planes [][]float64) ([]float64, error) {
	if len(planes) == 0 {
		return nil, ErrShape
	}
	out := make([]float64, len(planes[0]))
	for _, p := range planes {
		if len(p) != len(out) {
			return nil, ErrShape
		}
		floats.Add(out, p)
	}
	floats.Scale(1/float64(len(planes)), out)
	return out, nil
}

// BackgroundSubtracted returns (data - bg) / bg for every pixel.
// Pixels with a zero background are 0 where the data is also 0 and +1 otherwise,
// so that they saturate rather than poison the preview with NaN.
func BackgroundSubtracted(data, bg []float64) ([]float64, error) {
	if len(data) != len(bg) {
		return nil, ErrShape
	}
	out := make([]float64, len(data))
	floats.SubTo(out, data, bg)
	for i := range out {
		if bg[i] == 0 {
			if out[i] != 0 {
				out[i] = 1
			}
			continue
		}
		out[i] /= bg[i]
	}
	return out, nil
}

// FloatToMono maps [-1, 1] onto [0, 65534]; values outside the range are
// clipped
func FloatToMono(p []float64) []uint16 {
	out := make([]uint16, len(p))
	for i, v := range p {
		v = math.Max(-1, math.Min(1, v))
		out[i] = uint16((v + 1) * 32767)
	}
	return out
}

// CommonBackground combines several background exposures taken at different
// positions into one.  Each pair (i, j) is compared pixel by pixel; the pair
// agreement exp(-|bi-bj|/bj / WeightScale) raises the weight of both frames
// at that pixel.  The result is the weighted mean, which suppresses features
// that are present in only one exposure.  Where every weight is zero the plain
// mean is used.
func CommonBackground(bgs [][]float64) ([]float64, error) {
	n := len(bgs)
	if n == 0 {
		return nil, ErrShape
	}
	npix := len(bgs[0])
	for _, b := range bgs {
		if len(b) != npix {
			return nil, ErrShape
		}
	}
	weights := make([][]float64, n)
	for i := range weights {
		weights[i] = make([]float64, npix)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			bi, bj := bgs[i], bgs[j]
			for k := 0; k < npix; k++ {
				var w float64
				if bj[k] != 0 {
					w = math.Exp(-math.Abs((bi[k]-bj[k])/bj[k]) / WeightScale)
				} else if bi[k] == 0 {
					w = 1
				}
				weights[i][k] = math.Max(weights[i][k], w)
				weights[j][k] = math.Max(weights[j][k], w)
			}
		}
	}

	out := make([]float64, npix)
	norm := make([]float64, npix)
	tmp := make([]float64, npix)
	for i := 0; i < n; i++ {
		floats.MulTo(tmp, bgs[i], weights[i])
		floats.Add(out, tmp)
		floats.Add(norm, weights[i])
	}
	mean, _ := Mean(bgs)
	for k := range out {
		if norm[k] == 0 {
			out[k] = mean[k]
			continue
		}
		out[k] /= norm[k]
	}
	return out, nil
}

// Preview produces the 16-bit normalized preview of a sample record:
// the mean of the signal planes, less the common background of the background
// planes, divided by that background
func Preview(signal, background [][]float64) ([]uint16, error) {
	m, err := Mean(signal)
	if err != nil {
		return nil, err
	}
	bg, err := CommonBackground(background)
	if err != nil {
		return nil, err
	}
	d, err := BackgroundSubtracted(m, bg)
	if err != nil {
		return nil, err
	}
	return FloatToMono(d), nil
}
