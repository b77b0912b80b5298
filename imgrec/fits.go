package imgrec

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams an N-D array of unsigned 16-bit integers to w as a FITS
// primary image.  shape is slowest axis first, as in row-major order; FITS
// lists the fastest axis first, so the axes are reversed in the header.
//
// FITS has no unsigned 16-bit type, so the data is stored as int16 with
// BZERO=32768.
func WriteFits(w io.Writer, metadata []fitsio.Card, shape []int, data []uint16) error {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return fmt.Errorf("imgrec: shape %v holds %d values, got %d", shape, n, len(data))
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := make([]int, len(shape))
	for i, s := range shape {
		dims[len(shape)-1-i] = s
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	ints := make([]int16, len(data))
	for i, v := range data {
		ints[i] = int16(int32(v) - 32768)
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
