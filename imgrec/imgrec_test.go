package imgrec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"gopkg.in/yaml.v2"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
}

func TestWriteFitsReversesAxes(t *testing.T) {
	var buf bytes.Buffer
	shape := []int{2, 3, 4, 5}
	data := make([]uint16, 2*3*4*5)
	for i := range data {
		data[i] = uint16(i * 500)
	}
	if err := WriteFits(&buf, nil, shape, data); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	axes := f.HDU(0).(fitsio.Image).Header().Axes()
	exp := []int{5, 4, 3, 2}
	if len(axes) != len(exp) {
		t.Fatalf("expected axes %v, got %v", exp, axes)
	}
	for i := range exp {
		if axes[i] != exp[i] {
			t.Errorf("expected axes %v, got %v", exp, axes)
			break
		}
	}
}

func TestWriteFitsShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFits(&buf, nil, []int{2, 2}, []uint16{1, 2, 3}); err == nil {
		t.Error("expected an error for a shape that does not match the data")
	}
}

func TestRecordWritesThreeFiles(t *testing.T) {
	root := t.TempDir()
	r := New(root, "acq")
	r.now = fixedClock
	e := Entry{
		Shape:        []int{1, 4, 2, 2},
		Data:         make([]uint16, 16),
		PreviewShape: []int{1, 2, 2},
		Previews:     make([]uint16, 4),
		Metadata:     map[string]interface{}{"Camera.fps": 12.5},
	}
	base, err := r.Record(e)
	if err != nil {
		t.Fatal(err)
	}
	expBase := filepath.Join(root, "2024-03-09", "acq000000")
	if base != expBase {
		t.Errorf("expected base %s, got %s", expBase, base)
	}
	for _, suffix := range []string{".fits", "_preview.fits", ".yaml"} {
		if _, err := os.Stat(base + suffix); err != nil {
			t.Errorf("expected %s to exist: %v", base+suffix, err)
		}
	}
	b, err := os.ReadFile(base + ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	meta := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["Camera.fps"] != 12.5 {
		t.Errorf("expected Camera.fps 12.5, got %v", meta["Camera.fps"])
	}

	base2, err := r.Record(e)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(base2) != "acq000001" {
		t.Errorf("expected the counter to advance, got %s", base2)
	}
}

func TestRecordCounterSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	r := New(root, "acq")
	r.now = fixedClock
	e := Entry{Shape: []int{1, 1}, Data: []uint16{1}}
	if _, err := r.Record(e); err != nil {
		t.Fatal(err)
	}
	r2 := New(root, "acq")
	r2.now = fixedClock
	base, err := r2.Record(e)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(base) != "acq000001" {
		t.Errorf("expected a fresh recorder to continue the count, got %s", base)
	}
}

func TestRecordNamedEntriesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	r := New(root, "acq")
	r.now = fixedClock
	e := Entry{Name: "beads", Shape: []int{1, 1}, Data: []uint16{1}}
	first, err := r.Record(e)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Record(e)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "beads" || filepath.Base(second) != "beads_001" {
		t.Errorf("expected beads then beads_001, got %s then %s", first, second)
	}
}

func TestRecordDisabled(t *testing.T) {
	r := New(t.TempDir(), "acq")
	r.Enabled = false
	if _, err := r.Record(Entry{}); err != ErrDisabled {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestNextBaseIgnoresEnabled(t *testing.T) {
	root := t.TempDir()
	r := New(root, "acq")
	r.now = fixedClock
	r.Enabled = false
	base, err := r.NextBase("video")
	if err != nil {
		t.Fatal(err)
	}
	exp := filepath.Join(root, "2024-03-09", "video")
	if base != exp {
		t.Errorf("expected %s, got %s", exp, base)
	}
	if _, err := os.Stat(filepath.Dir(base)); err != nil {
		t.Errorf("day folder was not created: %v", err)
	}
}
