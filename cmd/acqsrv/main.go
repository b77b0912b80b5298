package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "acqsrv.yml"

	// EnvPrefix marks environment variables that override the config file.
	// Nested keys are separated by a double underscore, ACQ_ACQ__SHOTS=5
	EnvPrefix = "ACQ_"

	k = koanf.New(".")
)

// envKey maps an environment variable to the config key it overrides, matching
// the case of the keys already loaded
func envKey(known []string) func(string) string {
	keys := make(map[string]string, len(known))
	for _, key := range known {
		keys[strings.ToLower(key)] = key
	}
	return func(s string) string {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", "."))
		if real, ok := keys[key]; ok {
			return real
		}
		return key
	}
}

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey(k.Keys())), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func root() {
	str := `acqsrv drives a microscope (camera, stage, tunable source, and fluidics pump)
through snapshots and parameter sweeps, and exposes an HTTP interface to it.

Usage:
	acqsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `acqsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Every key may be overridden by an environment variable prefixed with ACQ_, with
nested keys separated by a double underscore, e.g. ACQ_MQTT__BROKER=tcp://host:1883.

With Mock: true the source, stage and pump are software devices.  The camera is
always the software camera.

Hardware:
- NKT
	> SuperK VARIA, on Laser.Addr
- Newport
	> ESP301, on Stage.Addr; X, Y, Z name its axes ("1", "2", "3")
- Advanced Microfluidics
	> LSPone syringe pump with ten port valve, on Pump.Addr

Routes:
	/acq/...     snapshots, sweeps, status, cancel, autowrite, lock
	/laser/...   manual control, locked while acquiring
	/stage/...   "
	/pump/...    "
	/camera/...  "
	/endpoints   every route
	/metrics     prometheus`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("acqsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s, err := Build(c, reg)
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(s.Run(c.Addr))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
