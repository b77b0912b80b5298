package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/labsweep/acq"
	"github.com/nasa-jpl/labsweep/camera"
	"github.com/nasa-jpl/labsweep/fluidics"
	"github.com/nasa-jpl/labsweep/generichttp"
	"github.com/nasa-jpl/labsweep/generichttp/acquisition"
	gcamera "github.com/nasa-jpl/labsweep/generichttp/camera"
	"github.com/nasa-jpl/labsweep/generichttp/laser"
	gmotion "github.com/nasa-jpl/labsweep/generichttp/motion"
	"github.com/nasa-jpl/labsweep/imgrec"
	"github.com/nasa-jpl/labsweep/motion"
	"github.com/nasa-jpl/labsweep/nkt"
	"github.com/nasa-jpl/labsweep/notify"
	"github.com/nasa-jpl/labsweep/server/middleware/locker"
	"github.com/nasa-jpl/labsweep/util"
)

// CameraSetup describes the software camera
type CameraSetup struct {
	Width  int     `yaml:"Width" koanf:"Width"`
	Height int     `yaml:"Height" koanf:"Height"`
	FPS    float64 `yaml:"FPS" koanf:"FPS"`

	// VideoFrames caps the length of a video recording, zero is no cap
	VideoFrames int `yaml:"VideoFrames" koanf:"VideoFrames"`
}

// LaserSetup describes the SuperK VARIA
type LaserSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial" koanf:"Serial"`

	// Bandwidth is the passband width kept while tuning, nm
	Bandwidth float64 `yaml:"Bandwidth" koanf:"Bandwidth"`
}

// StageSetup describes the ESP301 and which of its axes make up the stage
type StageSetup struct {
	Addr   string `yaml:"Addr" koanf:"Addr"`
	Serial bool   `yaml:"Serial" koanf:"Serial"`

	X string `yaml:"X" koanf:"X"`
	Y string `yaml:"Y" koanf:"Y"`
	Z string `yaml:"Z" koanf:"Z"`

	// Limits are software travel limits per axis, um
	Limits map[string]util.Limiter `yaml:"Limits" koanf:"Limits"`
}

// PumpSetup describes the syringe pump and its valve plumbing
type PumpSetup struct {
	Addr   string `yaml:"Addr" koanf:"Addr"`
	Serial bool   `yaml:"Serial" koanf:"Serial"`

	Water    int `yaml:"Water" koanf:"Water"`
	Flowcell int `yaml:"Flowcell" koanf:"Flowcell"`
	Waste    int `yaml:"Waste" koanf:"Waste"`
}

// Ports returns the plumbing as fluidics.Ports
func (p PumpSetup) Ports() fluidics.Ports {
	return fluidics.Ports{Water: p.Water, Flowcell: p.Flowcell, Waste: p.Waste}
}

// RecorderSetup configures where runs are written
type RecorderSetup struct {
	Root    string `yaml:"Root" koanf:"Root"`
	Prefix  string `yaml:"Prefix" koanf:"Prefix"`
	Enabled bool   `yaml:"Enabled" koanf:"Enabled"`
}

// MQTTSetup configures event publishing.  An empty Broker disables it.
type MQTTSetup struct {
	Broker   string `yaml:"Broker" koanf:"Broker"`
	Topic    string `yaml:"Topic" koanf:"Topic"`
	ClientID string `yaml:"ClientID" koanf:"ClientID"`
}

// Config is a struct that holds the initialization parameters for the server.
// It is to be populated by koanf.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces the laser, stage and pump with software devices
	Mock bool `yaml:"Mock" koanf:"Mock"`

	Camera   CameraSetup   `yaml:"Camera" koanf:"Camera"`
	Laser    LaserSetup    `yaml:"Laser" koanf:"Laser"`
	Stage    StageSetup    `yaml:"Stage" koanf:"Stage"`
	Pump     PumpSetup     `yaml:"Pump" koanf:"Pump"`
	Acq      acq.Config    `yaml:"Acq" koanf:"Acq"`
	Recorder RecorderSetup `yaml:"Recorder" koanf:"Recorder"`
	MQTT     MQTTSetup     `yaml:"MQTT" koanf:"MQTT"`
}

// DefaultConfig is the configuration with nothing set by the user
func DefaultConfig() Config {
	return Config{
		Addr:   ":8000",
		Mock:   true,
		Camera: CameraSetup{Width: 640, Height: 480, FPS: 0, VideoFrames: 1000},
		Laser:  LaserSetup{Addr: "/dev/ttyUSB0", Serial: true, Bandwidth: 10},
		Stage:  StageSetup{Addr: "192.168.100.10:5001", X: "1", Y: "2", Z: "3"},
		Pump: PumpSetup{
			Addr:     "/dev/ttyUSB1",
			Serial:   true,
			Water:    fluidics.DefaultPorts.Water,
			Flowcell: fluidics.DefaultPorts.Flowcell,
			Waste:    fluidics.DefaultPorts.Waste},
		Acq:      acq.DefaultConfig(),
		Recorder: RecorderSetup{Root: "data", Prefix: "run", Enabled: true},
		MQTT:     MQTTSetup{Topic: "labsweep/acq", ClientID: "acqsrv"},
	}
}

// opener is a device that is opened and closed by hand
type opener interface {
	Open() error
	Close() error
	IsOpen() bool
}

// Rig is the set of devices and their manual control wrappers
type Rig struct {
	Devices acq.Devices

	// Manual maps a URL stem to the manual controls of a device
	Manual map[string]generichttp.HTTPer

	// cam is the software camera, started by Run
	cam *camera.Mock
}

// BuildRig creates the devices described by c.  Devices that fail to open are
// logged and left closed; acquisitions that need them are refused until they
// are opened over HTTP.
func BuildRig(c Config) Rig {
	var (
		src   laser.Tunable
		ctl   gmotion.Mover
		pump  fluidics.Pump
		ports = c.Pump.Ports()
	)
	cam := camera.NewMock(c.Camera.Width, c.Camera.Height, c.Camera.FPS)
	if c.Mock {
		src, _ = nkt.NewMockSuperKVaria(c.Laser.Bandwidth)
		ctl = motion.NewMockController(c.Stage.X, c.Stage.Y, c.Stage.Z)
		pump = fluidics.NewMock(ports, 0)
	} else {
		src = nkt.NewSuperKVaria(nkt.NewBus(c.Laser.Addr, c.Laser.Serial), c.Laser.Bandwidth)
		ctl = motion.NewESP301(c.Stage.Addr, c.Stage.Serial)
		pump = fluidics.NewAMF(c.Pump.Addr, c.Pump.Serial, ports)
	}
	for name, dev := range map[string]interface{}{"laser": src, "pump": pump} {
		if o, ok := dev.(opener); ok {
			if err := o.Open(); err != nil {
				log.Printf("acqsrv: %s did not open: %v\n", name, err)
			}
		}
	}
	stage := motion.NewAxisStage(ctl, c.Stage.X, c.Stage.Y, c.Stage.Z, c.Stage.Limits)

	rig := Rig{
		Devices: acq.Devices{Camera: cam, Stage: stage, Laser: src, Pump: pump, Ports: ports},
		Manual: map[string]generichttp.HTTPer{
			"laser": laser.NewHTTPLaserController(src),
			"stage": gmotion.NewHTTPStage(stage),
			"pump":  fluidics.NewHTTPPump(pump, ports),
		},
		cam: cam,
	}
	for name, dev := range map[string]interface{}{"laser": src, "pump": pump} {
		if o, ok := dev.(opener); ok {
			rig.Manual[name].RT()[generichttp.MethodPath{Method: http.MethodPost, Path: "/open"}] = generichttp.SetBool(func(b bool) error {
				if b {
					return o.Open()
				}
				return o.Close()
			})
		}
	}
	return rig
}

// Server is the assembled acquisition server
type Server struct {
	Orch     *acq.Orchestrator
	Rig      Rig
	Lock     *locker.Locker
	Recorder *imgrec.Recorder
	Metrics  *notify.Metrics
	Mux      chi.Router
}

// Build wires the rig, orchestrator, observers and routes.  reg receives the
// acquisition metrics and is served at /metrics.
func Build(c Config, reg *prometheus.Registry) (*Server, error) {
	rig := BuildRig(c)
	o := acq.New(rig.Devices, c.Acq)

	rec := imgrec.New(c.Recorder.Root, c.Recorder.Prefix)
	rec.Enabled = c.Recorder.Enabled
	o.Subscribe(acq.Recorder(rec, o.Log))

	m, err := notify.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	o.Subscribe(m)

	if c.MQTT.Broker != "" {
		id := c.MQTT.ClientID + "-" + uuid.NewString()[:8]
		client, err := notify.Connect(c.MQTT.Broker, id, 10*time.Second)
		if err != nil {
			// the client keeps retrying in the background
			log.Printf("acqsrv: mqtt broker %s not reachable yet: %v\n", c.MQTT.Broker, err)
		}
		o.Subscribe(notify.NewMQTT(client, c.MQTT.Topic))
	}

	lock := locker.New(o.Busy)
	s := &Server{Orch: o, Rig: rig, Lock: lock, Recorder: rec, Metrics: m}
	grab := acq.NewSynchronizer(rig.Devices.Camera, c.Acq.FrameTimeout, o.Log)
	hcam := gcamera.NewHTTPCamera(rig.Devices.Camera, grab, o.Background)
	hcam.AddVideo(&gcamera.Video{Cam: rig.Devices.Camera, Base: rec.NextBase, Limit: c.Camera.VideoFrames})
	rig.Manual["camera"] = hcam

	a := acquisition.NewHTTPAcquisition(o)
	locker.Inject(a, lock)
	imgrec.NewHTTPWrapper(rec).Inject(a)

	s.Mux = BuildMux(a, rig.Manual, lock, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return s, nil
}

// BuildMux mounts the acquisition routes at /acq and each manual device at
// /<name>, behind the lock.  The root serves /endpoints, a map of every route,
// and /metrics.
func BuildMux(a generichttp.HTTPer, manual map[string]generichttp.HTTPer, lock *locker.Locker, metrics http.Handler) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	root.Route("/acq", func(r chi.Router) {
		a.RT().Bind(r)
	})
	supergraph["/acq"] = a.RT().Endpoints()
	for name, h := range manual {
		stem := "/" + name
		root.Route(stem, func(r chi.Router) {
			r.Use(lock.Check)
			h.RT().Bind(r)
		})
		supergraph[stem] = h.RT().Endpoints()
	}

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", metrics)
	return root
}

// Run starts the camera and serves until the listener fails
func (s *Server) Run(addr string) error {
	s.Rig.cam.Start()
	defer s.Rig.cam.Stop()
	log.Println("now listening for requests at ", addr)
	return http.ListenAndServe(addr, s.Mux)
}
