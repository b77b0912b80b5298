package camera

import (
	"errors"
	"testing"
	"time"
)

func TestFrameValuesRoundTrip(t *testing.T) {
	vals := []uint16{1, 2, 3, 65535, 256, 7}
	f := FrameFromValues(vals, 3, 2, time.Now())
	if s := f.Shape(); s != [2]int{2, 3} {
		t.Fatalf("expected shape (2, 3), got %v", s)
	}
	out := f.Values()
	for i := range vals {
		if out[i] != vals[i] {
			t.Errorf("pixel %d: expected %d got %d", i, vals[i], out[i])
		}
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	f := FrameFromValues([]uint16{10, 20, 30, 40}, 2, 2, time.Now())
	c := f.Clone()
	f.Pix[0], f.Pix[1] = 0xFF, 0xFF
	if c.Values()[0] != 10 {
		t.Errorf("clone was modified through the original buffer, got %d", c.Values()[0])
	}
}

func TestMockTriggerModeDelivers(t *testing.T) {
	m := NewMock(4, 3, 0)
	m.Start()
	defer m.Stop()
	got := make(chan Frame, 1)
	m.SubscribeNextFrame(func(f Frame) { got <- f.Clone() })
	if err := m.Trigger(); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-got:
		if s := f.Shape(); s != [2]int{3, 4} {
			t.Errorf("expected shape (3, 4), got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered after trigger")
	}
}

func TestMockSubscriptionIsOneShot(t *testing.T) {
	m := NewMock(2, 2, 0)
	m.Start()
	defer m.Stop()
	calls := make(chan struct{}, 4)
	m.SubscribeNextFrame(func(Frame) { calls <- struct{}{} })
	m.emit()
	m.emit()
	if len(calls) != 1 {
		t.Errorf("expected the callback to run once, ran %d times", len(calls))
	}
}

func TestMockDropNext(t *testing.T) {
	m := NewMock(2, 2, 0)
	m.Start()
	defer m.Stop()
	calls := make(chan struct{}, 4)
	m.DropNext(1)
	m.SubscribeNextFrame(func(Frame) { calls <- struct{}{} })
	m.emit()
	if len(calls) != 0 {
		t.Fatal("dropped frame reached the subscriber")
	}
	m.emit()
	if len(calls) != 1 {
		t.Errorf("expected delivery after the drop, got %d calls", len(calls))
	}
}

func TestMockTriggerWhenStopped(t *testing.T) {
	m := NewMock(2, 2, 0)
	if err := m.Trigger(); err != ErrNotStreaming {
		t.Errorf("expected ErrNotStreaming, got %v", err)
	}
}

func TestMockExposure(t *testing.T) {
	m := NewMock(2, 2, 10)
	if err := m.SetExposure(250 * time.Microsecond); err != nil {
		t.Fatal(err)
	}
	auto, us, err := m.Exposure()
	if err != nil {
		t.Fatal(err)
	}
	if auto || us != 250 {
		t.Errorf("expected manual 250us, got auto=%v %dus", auto, us)
	}
	fps, _ := m.FrameRate()
	if fps < 9.99 || fps > 10.01 {
		t.Errorf("expected 10 fps, got %f", fps)
	}
}

func TestMockAOI(t *testing.T) {
	m := NewMock(8, 6, 0)
	if err := m.SetAOI(AOI{Left: 4, Top: 2, Width: 4, Height: 4}); err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()
	got := make(chan Frame, 1)
	m.SubscribeNextFrame(func(f Frame) { got <- f.Clone() })
	m.emit()
	f := <-got
	if s := f.Shape(); s != [2]int{4, 4} {
		t.Errorf("expected shape (4, 4), got %v", s)
	}
	for _, a := range []AOI{{Width: 9, Height: 1}, {Left: 5, Width: 4, Height: 1}, {Width: 0, Height: 1}, {Top: -1, Width: 1, Height: 1}} {
		if err := m.SetAOI(a); !errors.Is(err, ErrBadAOI) {
			t.Errorf("%+v: expected ErrBadAOI, got %v", a, err)
		}
	}
}

func TestMockTriggerModeSwitch(t *testing.T) {
	m := NewMock(2, 2, 1000)
	if on, _ := m.TriggerMode(); on {
		t.Fatal("a mock with a frame rate should free-run")
	}
	if err := m.SetTriggerMode(true); err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()
	time.Sleep(20 * time.Millisecond)
	if n := m.Delivered(); n != 0 {
		t.Errorf("expected no free-running frames in trigger mode, got %d", n)
	}
	if err := NewMock(2, 2, 0).SetTriggerMode(false); err == nil {
		t.Error("expected an error leaving trigger mode without a frame rate")
	}
}
