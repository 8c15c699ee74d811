package domain

import "fmt"

// Resolution is the configured capture preset.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
)

// ParseResolution accepts "720p" and "1080p"; anything else falls back to 1080p.
func ParseResolution(s string) Resolution {
	if Resolution(s) == Resolution720p {
		return Resolution720p
	}
	return Resolution1080p
}

// OptimalBitrate is the encoder target for the preset, in bits per second.
func (r Resolution) OptimalBitrate() uint32 {
	if r == Resolution720p {
		return 3 * 1024 * 1024
	}
	return 6 * 1024 * 1024
}

// Dimensions returns output width and height for the orientation.
func (r Resolution) Dimensions(o Orientation) (width, height int) {
	long, short := 1920, 1080
	if r == Resolution720p {
		long, short = 1280, 720
	}
	if o == OrientationLandscape {
		return long, short
	}
	return short, long
}

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// ParseOrientation validates an orientation name.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case OrientationPortrait, OrientationLandscape:
		return Orientation(s), nil
	default:
		return "", fmt.Errorf("unknown orientation %q", s)
	}
}

type CameraPosition string

const (
	CameraFront CameraPosition = "front"
	CameraBack  CameraPosition = "back"
)

// Toggle returns the opposite camera.
func (c CameraPosition) Toggle() CameraPosition {
	if c == CameraBack {
		return CameraFront
	}
	return CameraBack
}

// StabilizationMode mirrors the capture stack's video stabilization setting.
type StabilizationMode int

const (
	StabilizationOff StabilizationMode = iota
	StabilizationStandard
	StabilizationCinematic
	StabilizationCinematicExtended
	StabilizationAuto StabilizationMode = -1
)

var stabilizationNames = map[string]StabilizationMode{
	"off":                StabilizationOff,
	"standard":           StabilizationStandard,
	"cinematic":          StabilizationCinematic,
	"cinematic_extended": StabilizationCinematicExtended,
	"auto":               StabilizationAuto,
}

// ParseStabilizationMode accepts off, standard, cinematic,
// cinematic_extended and auto. An empty name is standard.
func ParseStabilizationMode(s string) (StabilizationMode, error) {
	if s == "" {
		return StabilizationStandard, nil
	}
	m, ok := stabilizationNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown stabilization mode %q", s)
	}
	return m, nil
}

// PreviewHandle is an opaque reference to the local preview surface.
type PreviewHandle string

// TransportConfig is what the media transport needs to bind capture sources.
type TransportConfig struct {
	Resolution              Resolution
	Orientation             Orientation
	Stabilization           StabilizationMode
	Camera                  CameraPosition
	AdaptiveBitrateDisabled bool
}

// VideoSettings are the encoder parameters derived from a TransportConfig.
type VideoSettings struct {
	Width                  int
	Height                 int
	Bitrate                uint32
	FrameRate              float64
	KeyFrameIntervalSecond int
	Letterbox              bool
	Stabilization          StabilizationMode
}

// AudioSettings are the fixed audio encoder parameters.
type AudioSettings struct {
	Bitrate    uint32
	SampleRate int
}

// DefaultAudioSettings returns 32 kbit/s at 44.1 kHz.
func DefaultAudioSettings() AudioSettings {
	return AudioSettings{Bitrate: 32 * 1024, SampleRate: 44_100}
}

// VideoSettingsFor derives encoder settings from a transport config.
func VideoSettingsFor(cfg TransportConfig) VideoSettings {
	w, h := cfg.Resolution.Dimensions(cfg.Orientation)
	return VideoSettings{
		Width:                  w,
		Height:                 h,
		Bitrate:                cfg.Resolution.OptimalBitrate(),
		FrameRate:              30,
		KeyFrameIntervalSecond: 2,
		Letterbox:              cfg.Orientation == OrientationPortrait,
		Stabilization:          cfg.Stabilization,
	}
}
