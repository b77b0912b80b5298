/*
Package camera describes a standard set of interfaces for streaming cameras

The Streamer type contains the basics needed to pull single frames out of a
push-based delivery stream, while PropertySyncer and ExposureSetter are
extended features found on some scientific cameras.
*/
package camera

import (
	"context"
	"encoding/binary"
	"image"
	"time"
)

// Frame is a single monochrome frame delivered by a camera.
//
// The pixel data is held as image.Gray16, which stores each pixel as two
// big-endian bytes.  Frames handed to subscribers may alias a buffer owned by
// the driver; call Clone before retaining one past the callback.
type Frame struct {
	*image.Gray16

	// Timestamp is the time at which the frame was delivered
	Timestamp time.Time
}

// NewFrame allocates a zeroed frame of the given size
func NewFrame(width, height int, ts time.Time) Frame {
	return Frame{Gray16: image.NewGray16(image.Rect(0, 0, width, height)), Timestamp: ts}
}

// FrameFromValues builds a frame from row-major pixel values.  len(vals) must be
// width*height.
func FrameFromValues(vals []uint16, width, height int, ts time.Time) Frame {
	f := NewFrame(width, height, ts)
	for i, v := range vals {
		binary.BigEndian.PutUint16(f.Pix[2*i:], v)
	}
	return f
}

// Clone returns a deep copy of the frame that shares no memory with f
func (f Frame) Clone() Frame {
	if f.Gray16 == nil {
		return Frame{Timestamp: f.Timestamp}
	}
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	g := &image.Gray16{Pix: pix, Stride: f.Stride, Rect: f.Rect}
	return Frame{Gray16: g, Timestamp: f.Timestamp}
}

// Shape returns the (H, W) of the frame
func (f Frame) Shape() [2]int {
	if f.Gray16 == nil {
		return [2]int{0, 0}
	}
	b := f.Bounds()
	return [2]int{b.Dy(), b.Dx()}
}

// Values returns the row-major pixel values of the frame as uint16
func (f Frame) Values() []uint16 {
	s := f.Shape()
	h, w := s[0], s[1]
	out := make([]uint16, 0, h*w)
	for y := 0; y < h; y++ {
		row := f.Pix[y*f.Stride : y*f.Stride+2*w]
		for x := 0; x < w; x++ {
			out = append(out, binary.BigEndian.Uint16(row[2*x:]))
		}
	}
	return out
}

// Streamer describes a camera which pushes frames to subscribers as they are
// delivered by the driver
type Streamer interface {
	// StreamValid returns true if the device is open and streaming
	StreamValid() bool

	// SubscribeNextFrame registers a callback that is called exactly once,
	// with the next frame the stream delivers.  The frame's buffer belongs to
	// the driver and is only valid for the duration of the callback.
	SubscribeNextFrame(func(Frame))

	// Trigger requests a frame.  It is a no-op on free-running devices.
	Trigger() error

	// FrameRate returns the acquisition frame rate in Hz
	FrameRate() (float64, error)

	// Exposure returns if auto exposure is active, and the exposure time in
	// microseconds
	Exposure() (bool, int, error)
}

// PropertySyncer is a camera whose property map can be updated from the chunk
// data that accompanies each delivered frame
type PropertySyncer interface {
	SyncProperties(Frame) error
}

// ExposureSetter can configure its exposure time
type ExposureSetter interface {
	SetExposure(time.Duration) error
}

// Grabber pulls exactly one frame out of a stream
type Grabber interface {
	CaptureOne(context.Context) (Frame, error)
}

// AOI describes an area of interest on the sensor
type AOI struct {
	// Left is the left pixel offset.  0-based
	Left int `json:"left"`

	// Top is the top pixel offset.  0-based
	Top int `json:"top"`

	// Width is the width in pixels
	Width int `json:"width"`

	// Height is the height in pixels
	Height int `json:"height"`
}

// Right returns the first column past the AOI
func (a AOI) Right() int {
	return a.Left + a.Width
}

// Bottom returns the first row past the AOI
func (a AOI) Bottom() int {
	return a.Top + a.Height
}

// AOIManipulator describes a camera which has a configurable area of interest
type AOIManipulator interface {
	// SetAOI allows the AOI to be set
	SetAOI(AOI) error

	// GetAOI retrieves the current AOI
	GetAOI() (AOI, error)
}

// AutoExposer can hand its exposure time over to the driver's auto exposure
type AutoExposer interface {
	SetAutoExposure(bool) error
}

// TriggerSwitcher can switch between free-running and triggered delivery
type TriggerSwitcher interface {
	// SetTriggerMode enables (true) or disables software triggering
	SetTriggerMode(bool) error

	// TriggerMode returns true if frames are only delivered when triggered
	TriggerMode() (bool, error)
}

// StreamController can start and stop its stream
type StreamController interface {
	Start()
	Stop()
}
