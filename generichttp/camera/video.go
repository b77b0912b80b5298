package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/generichttp"
	"github.com/nasa-jpl/labsweep/imgrec"
)

var (
	// ErrRecording is generated when a video is started while one is being
	// recorded
	ErrRecording = errors.New("camera: a video is already being recorded")

	// ErrNotRecording is generated when a video is stopped that was never
	// started
	ErrNotRecording = errors.New("camera: no video is being recorded")

	// ErrNoFrames is generated when a video is stopped before any frame
	// arrived
	ErrNoFrames = errors.New("camera: no frames were delivered while recording")
)

// Video collects every frame the stream delivers between Start and Stop and
// writes them as one [N, H, W] FITS cube
type Video struct {
	// Cam is the stream recorded from
	Cam camera.Streamer

	// Base reserves the base path of the next file, without extension
	Base func(name string) (string, error)

	// Limit caps the number of frames kept, zero is no cap
	Limit int

	mu        sync.Mutex
	recording bool
	gen       uint64
	frames    []camera.Frame
	started   time.Time
}

// VideoFile describes a written video
type VideoFile struct {
	Path   string `json:"path"`
	Frames int    `json:"frames"`
}

// Recording returns true between Start and Stop
func (v *Video) Recording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recording
}

// Start begins collecting frames
func (v *Video) Start() error {
	v.mu.Lock()
	if v.recording {
		v.mu.Unlock()
		return ErrRecording
	}
	v.recording = true
	v.frames = nil
	v.started = time.Now()
	v.gen++
	gen := v.gen
	v.mu.Unlock()
	v.Cam.SubscribeNextFrame(v.collect(gen))
	return nil
}

// collect returns the subscription of one recording.  It subscribes itself
// again after every frame until the recording it belongs to stops.
func (v *Video) collect(gen uint64) func(camera.Frame) {
	return func(f camera.Frame) {
		v.mu.Lock()
		if !v.recording || v.gen != gen {
			v.mu.Unlock()
			return
		}
		if v.Limit == 0 || len(v.frames) < v.Limit {
			v.frames = append(v.frames, f.Clone())
		}
		v.mu.Unlock()
		v.Cam.SubscribeNextFrame(v.collect(gen))
	}
}

// Stop ends the recording and writes the cube to the path reserved for name
func (v *Video) Stop(name string) (VideoFile, error) {
	v.mu.Lock()
	if !v.recording {
		v.mu.Unlock()
		return VideoFile{}, ErrNotRecording
	}
	v.recording = false
	frames, started := v.frames, v.started
	v.frames = nil
	v.mu.Unlock()

	if len(frames) == 0 {
		return VideoFile{}, ErrNoFrames
	}
	shape := frames[0].Shape()
	data := make([]uint16, 0, len(frames)*shape[0]*shape[1])
	for i, f := range frames {
		if f.Shape() != shape {
			// the AOI changed mid-recording
			return VideoFile{}, fmt.Errorf("camera: frame %d is %v, the first was %v", i, f.Shape(), shape)
		}
		data = append(data, f.Values()...)
	}
	if name == "" {
		name = "video"
	}
	base, err := v.Base(name)
	if err != nil {
		return VideoFile{}, err
	}
	fn := base + ".fits"
	fid, err := os.Create(fn)
	if err != nil {
		return VideoFile{}, err
	}
	defer fid.Close()
	cards := []fitsio.Card{
		{Name: "DATE-OBS", Value: started.UTC().Format(time.RFC3339), Comment: "start of the recording"},
		{Name: "DURATION", Value: frames[len(frames)-1].Timestamp.Sub(frames[0].Timestamp).Seconds(), Comment: "first to last frame, s"},
	}
	err = imgrec.WriteFits(fid, cards, []int{len(frames), shape[0], shape[1]}, data)
	return VideoFile{Path: fn, Frames: len(frames)}, err
}

// VideoRequest is the body of POST /video
type VideoRequest struct {
	// Bool starts (true) or stops (false) the recording
	Bool bool `json:"bool"`

	// Name is the base filename used when stopping
	Name string `json:"name"`
}

// HTTPVideo starts or stops a recording on a POST request.  Stopping responds
// with the written VideoFile.
func HTTPVideo(v *Video) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := VideoRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			fstr := fmt.Sprintf("error decoding json, should have field bool, and optionally name.  Error: %q", err)
			http.Error(w, fstr, http.StatusBadRequest)
			return
		}
		if req.Bool {
			if err = v.Start(); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		vf, err := v.Stop(req.Name)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrNotRecording) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(vf)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// AddVideo adds the /video routes to the camera
func (h HTTPCamera) AddVideo(v *Video) {
	h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/video"}] = generichttp.GetBool(func() (bool, error) {
		return v.Recording(), nil
	})
	h.RouteTable[generichttp.MethodPath{Method: http.MethodPost, Path: "/video"}] = HTTPVideo(v)
}
