package acq

import "time"

// BackgroundShots is the number of frames taken at the offset positions of
// every sample record
const BackgroundShots = 3

// backgroundOffsets are the lateral offsets of the background frames, in units
// of Config.OffsetDistance
var backgroundOffsets = [BackgroundShots][2]float64{{1, 0}, {1, 1}, {0, 1}}

// Config holds the acquisition constants and timings
type Config struct {
	// Shots is the number of frames averaged at the anchor of each sample
	// record
	Shots int `yaml:"Shots" koanf:"Shots"`

	// OffsetDistance is the lateral distance of the background positions, um
	OffsetDistance float64 `yaml:"OffsetDistance" koanf:"OffsetDistance"`

	// ZScale converts requested defocus to stage units
	ZScale float64 `yaml:"ZScale" koanf:"ZScale"`

	// Magnification of the objective, recorded in metadata
	Magnification int `yaml:"Magnification" koanf:"Magnification"`

	// PixelSize of the sensor in um, recorded in metadata
	PixelSize float64 `yaml:"PixelSize" koanf:"PixelSize"`

	// PickupVolume is drawn from each medium port, ul
	PickupVolume float64 `yaml:"PickupVolume" koanf:"PickupVolume"`

	// FlowVolume is pushed into the flowcell for each medium, ul
	FlowVolume float64 `yaml:"FlowVolume" koanf:"FlowVolume"`

	// FrameTimeout is how long a capture waits before re-triggering
	FrameTimeout time.Duration `yaml:"FrameTimeout" koanf:"FrameTimeout"`

	// WarmUp is waited after the first wavelength is set
	WarmUp time.Duration `yaml:"WarmUp" koanf:"WarmUp"`

	// WavelengthSettle is waited after every wavelength change
	WavelengthSettle time.Duration `yaml:"WavelengthSettle" koanf:"WavelengthSettle"`

	// DefocusSettle is waited after every focus move
	DefocusSettle time.Duration `yaml:"DefocusSettle" koanf:"DefocusSettle"`

	// MediumSettle is waited after sampling each medium
	MediumSettle time.Duration `yaml:"MediumSettle" koanf:"MediumSettle"`

	// OffsetSettle is waited after each move to a background position
	OffsetSettle time.Duration `yaml:"OffsetSettle" koanf:"OffsetSettle"`
}

// DefaultConfig returns the standard setup: 10 shots, a 60x objective over
// 3.45 um pixels
func DefaultConfig() Config {
	return Config{
		Shots:            10,
		OffsetDistance:   4,
		ZScale:           10 / 1.4,
		Magnification:    60,
		PixelSize:        3.45,
		PickupVolume:     200,
		FlowVolume:       40,
		FrameTimeout:     time.Second,
		WarmUp:           5 * time.Second,
		WavelengthSettle: 500 * time.Millisecond,
		DefocusSettle:    2 * time.Second,
		MediumSettle:     2 * time.Second,
		OffsetSettle:     200 * time.Millisecond,
	}
}

// RecordLen is the number of frames in one sample record
func (c Config) RecordLen() int {
	return c.Shots + BackgroundShots
}
