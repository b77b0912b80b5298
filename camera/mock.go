package camera

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"
)

// ErrNotStreaming is generated when a frame is requested from a camera which
// is not streaming
var ErrNotStreaming = errors.New("camera: stream is not running")

// ErrBadAOI is generated when an AOI does not fit on the sensor
var ErrBadAOI = errors.New("camera: AOI does not fit on the sensor")

// Mock is a software camera.  With a positive frame rate it free-runs and
// delivers a frame every period; in trigger mode it delivers one frame per
// call to Trigger.  A mock created with a frame rate of zero is always in
// trigger mode.
//
// Like real drivers it renders into a small pool of buffers that are reused,
// so subscribers must copy what they keep.
type Mock struct {
	sync.Mutex
	sensorW      int
	sensorH      int
	aoi          AOI
	period       time.Duration
	trigger      bool
	pool         []*image.Gray16
	next         int
	subs         []func(Frame)
	streaming    bool
	count        uint64
	drop         int
	dropRate     float64
	exposure     time.Duration
	autoExposure bool
	synced       uint64
	lastSync     time.Time
	cancel       chan struct{}
}

// NewMock returns a new mock camera.  Call Start to begin streaming.
func NewMock(width, height int, fps float64) *Mock {
	m := &Mock{
		sensorW:  width,
		sensorH:  height,
		aoi:      AOI{Width: width, Height: height},
		exposure: 10 * time.Millisecond,
		pool:     make([]*image.Gray16, 3),
		trigger:  fps <= 0,
	}
	if fps > 0 {
		m.period = time.Duration(float64(time.Second) / fps)
	}
	m.allocate()
	return m
}

// allocate sizes the buffer pool to the AOI.  Frames already handed out keep
// their old buffers.
func (m *Mock) allocate() {
	for i := range m.pool {
		m.pool[i] = image.NewGray16(image.Rect(0, 0, m.aoi.Width, m.aoi.Height))
	}
	m.next = 0
}

// Start begins streaming
func (m *Mock) Start() {
	m.Lock()
	defer m.Unlock()
	if m.streaming {
		return
	}
	m.streaming = true
	m.cancel = make(chan struct{})
	if m.period > 0 {
		go m.runner(m.cancel)
	}
}

// Stop ends streaming.  It may be restarted.
func (m *Mock) Stop() {
	m.Lock()
	defer m.Unlock()
	if !m.streaming {
		return
	}
	m.streaming = false
	close(m.cancel)
}

func (m *Mock) runner(cancel chan struct{}) {
	t := time.NewTicker(m.period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Lock()
			triggered := m.trigger
			m.Unlock()
			if !triggered {
				m.emit()
			}
		case <-cancel:
			return
		}
	}
}

// DropNext causes the next n deliveries to be silently discarded, as a driver
// with an overrun queue would
func (m *Mock) DropNext(n int) {
	m.Lock()
	defer m.Unlock()
	m.drop += n
}

// SetDropRate sets the probability [0,1] that any given frame is dropped
func (m *Mock) SetDropRate(p float64) {
	m.Lock()
	defer m.Unlock()
	m.dropRate = p
}

// Delivered returns the number of frames rendered so far, dropped or not
func (m *Mock) Delivered() uint64 {
	m.Lock()
	defer m.Unlock()
	return m.count
}

func (m *Mock) emit() {
	m.Lock()
	if !m.streaming {
		m.Unlock()
		return
	}
	buf := m.pool[m.next]
	m.next = (m.next + 1) % len(m.pool)
	m.count++
	m.render(buf, m.count)
	if m.drop > 0 {
		m.drop--
		m.Unlock()
		return
	}
	if m.dropRate > 0 && rand.Float64() < m.dropRate {
		m.Unlock()
		return
	}
	subs := m.subs
	m.subs = nil
	m.Unlock()

	f := Frame{Gray16: buf, Timestamp: time.Now()}
	for _, cb := range subs {
		cb(f)
	}
}

// render draws a gradient over the sensor with a little shot noise; the level
// tracks the exposure time so that changing it is visible in the data
func (m *Mock) render(buf *image.Gray16, n uint64) {
	level := 1000 + int(m.exposure/time.Microsecond)%20000
	if m.autoExposure {
		level = 20000
	}
	for y := 0; y < m.aoi.Height; y++ {
		for x := 0; x < m.aoi.Width; x++ {
			sx, sy := x+m.aoi.Left, y+m.aoi.Top
			v := level + 4*sx + 2*sy + rand.Intn(16) + int(n%7)
			binary.BigEndian.PutUint16(buf.Pix[y*buf.Stride+2*x:], uint16(v))
		}
	}
}

// StreamValid returns true if the mock is streaming
func (m *Mock) StreamValid() bool {
	m.Lock()
	defer m.Unlock()
	return m.streaming
}

// SubscribeNextFrame registers a one-shot callback for the next frame
func (m *Mock) SubscribeNextFrame(cb func(Frame)) {
	m.Lock()
	defer m.Unlock()
	m.subs = append(m.subs, cb)
}

// Trigger emits a frame when the mock is in trigger mode.  It is a no-op when
// free-running.
func (m *Mock) Trigger() error {
	m.Lock()
	streaming, triggered := m.streaming, m.trigger
	m.Unlock()
	if !streaming {
		return ErrNotStreaming
	}
	if triggered {
		go m.emit()
	}
	return nil
}

// FrameRate returns the frame rate in Hz; zero in trigger mode
func (m *Mock) FrameRate() (float64, error) {
	m.Lock()
	defer m.Unlock()
	if m.trigger {
		return 0, nil
	}
	return float64(time.Second) / float64(m.period), nil
}

// Exposure returns the auto exposure state and exposure time in microseconds
func (m *Mock) Exposure() (bool, int, error) {
	m.Lock()
	defer m.Unlock()
	return m.autoExposure, int(m.exposure / time.Microsecond), nil
}

// SetExposure sets the exposure time and disables auto exposure
func (m *Mock) SetExposure(d time.Duration) error {
	if d <= 0 {
		return errors.New("camera: exposure time must be positive")
	}
	m.Lock()
	defer m.Unlock()
	m.exposure = d
	m.autoExposure = false
	return nil
}

// SetAutoExposure turns auto exposure on or off.  While it is on frames are
// rendered at a fixed level.
func (m *Mock) SetAutoExposure(b bool) error {
	m.Lock()
	defer m.Unlock()
	m.autoExposure = b
	return nil
}

// SetTriggerMode switches between triggered and free-running delivery.  A
// mock without a frame rate cannot free-run.
func (m *Mock) SetTriggerMode(b bool) error {
	m.Lock()
	defer m.Unlock()
	if !b && m.period == 0 {
		return errors.New("camera: mock has no frame rate to free-run at")
	}
	m.trigger = b
	return nil
}

// TriggerMode returns true if the mock only delivers triggered frames
func (m *Mock) TriggerMode() (bool, error) {
	m.Lock()
	defer m.Unlock()
	return m.trigger, nil
}

// SetAOI restricts the frames to an area of the sensor
func (m *Mock) SetAOI(a AOI) error {
	if a.Width < 1 || a.Height < 1 || a.Left < 0 || a.Top < 0 ||
		a.Right() > m.sensorW || a.Bottom() > m.sensorH {
		return fmt.Errorf("%w: %+v on a %dx%d sensor", ErrBadAOI, a, m.sensorW, m.sensorH)
	}
	m.Lock()
	defer m.Unlock()
	m.aoi = a
	m.allocate()
	return nil
}

// GetAOI returns the current area of interest
func (m *Mock) GetAOI() (AOI, error) {
	m.Lock()
	defer m.Unlock()
	return m.aoi, nil
}

// Resolution returns the (H, W) of frames from the mock
func (m *Mock) Resolution() [2]int {
	m.Lock()
	defer m.Unlock()
	return [2]int{m.aoi.Height, m.aoi.Width}
}

// SyncProperties records the timestamp of the frame as the last one whose
// properties were read back
func (m *Mock) SyncProperties(f Frame) error {
	m.Lock()
	defer m.Unlock()
	m.synced++
	m.lastSync = f.Timestamp
	return nil
}

// Synced returns the number of frames passed to SyncProperties and the
// timestamp of the latest
func (m *Mock) Synced() (uint64, time.Time) {
	m.Lock()
	defer m.Unlock()
	return m.synced, m.lastSync
}
