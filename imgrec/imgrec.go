// Package imgrec contains a recorder used to save acquisition results to disk.
//
// Every result is written as three files sharing one base name in a
// yyyy-mm-dd subfolder of the root: the raw N-D array (base.fits), the
// normalized previews (base_preview.fits), and the metadata (base.yaml).
package imgrec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrDisabled is generated when Record is called on a disabled recorder
var ErrDisabled = errors.New("imgrec: recorder is disabled")

// Entry is one result to be recorded
type Entry struct {
	// Name is the base filename chosen by the operator, may be empty
	Name string

	// Shape is the shape of Data, slowest axis first
	Shape []int

	// Data is the row-major raw array
	Data []uint16

	// PreviewShape is the shape of Previews, slowest axis first; nil when
	// there are no previews
	PreviewShape []int

	// Previews is the row-major preview stack
	Previews []uint16

	// Metadata is written to the yaml file
	Metadata map[string]interface{}
}

// Recorder records results with incrementing filenames in yyyy-mm-dd subfolders.
// It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled allows recording to be switched off at runtime
	Enabled bool

	// now is the clock, replaced in tests
	now func() time.Time
}

// New returns an enabled recorder
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Enabled: true, now: time.Now}
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	t := now()
	fldr := fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
	if fldr != r.timeFldr {
		r.timeFldr = fldr
		r.counter = 0
	}
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// scan updates the counter from the files in the folder, so that a restarted
// server does not overwrite earlier results
func (r *Recorder) scan(fldr string) {
	files, err := os.ReadDir(fldr)
	if err != nil {
		return
	}
	for _, file := range files {
		fn := file.Name()
		if file.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if n >= r.counter {
			r.counter = n + 1
		}
	}
}

// nextBase returns the base path for the next entry.  A named entry uses its
// name, suffixed with a counter if that name was already used today.
func (r *Recorder) nextBase(name string) (string, error) {
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if name != "" {
		name = filepath.Base(name)
		base := filepath.Join(fldr, name)
		for i := 1; exists(base + ".fits"); i++ {
			base = filepath.Join(fldr, fmt.Sprintf("%s_%03d", name, i))
		}
		return base, nil
	}
	r.scan(fldr)
	base := filepath.Join(fldr, fmt.Sprintf("%s%06d", r.Prefix, r.counter))
	r.counter++
	return base, nil
}

// NextBase reserves a base path in today's folder for a file written outside
// of Record, such as a video.  It does not depend on Enabled.
func (r *Recorder) NextBase(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextBase(name)
}

func exists(fn string) bool {
	_, err := os.Stat(fn)
	return err == nil
}

// Record writes an entry to disk and returns its base path
func (r *Recorder) Record(e Entry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Enabled {
		return "", ErrDisabled
	}
	base, err := r.nextBase(e.Name)
	if err != nil {
		return "", err
	}
	err = writeFile(base+".fits", func(f *os.File) error {
		return WriteFits(f, nil, e.Shape, e.Data)
	})
	if err != nil {
		return base, err
	}
	if len(e.Previews) > 0 {
		err = writeFile(base+"_preview.fits", func(f *os.File) error {
			return WriteFits(f, nil, e.PreviewShape, e.Previews)
		})
		if err != nil {
			return base, err
		}
	}
	err = writeFile(base+".yaml", func(f *os.File) error {
		return yaml.NewEncoder(f).Encode(e.Metadata)
	})
	return base, err
}

func writeFile(fn string, fill func(*os.File) error) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	err = fill(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("imgrec: writing %s: %w", fn, err)
	}
	return f.Close()
}
