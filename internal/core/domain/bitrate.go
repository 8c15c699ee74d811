package domain

type BitrateLevel string

const (
	BitrateOptimal   BitrateLevel = "optimal"
	BitrateDecreased BitrateLevel = "decreased"
)

type CongestionSeverity int

const (
	BandwidthInsufficient CongestionSeverity = iota
	BandwidthSufficient
)

func (c CongestionSeverity) String() string {
	if c == BandwidthSufficient {
		return "sufficient"
	}
	return "insufficient"
}

// BitrateState is owned by the adaptive bitrate controller.
// Invariant: OptimalBitrate/2 <= CurrentBitrate <= OptimalBitrate.
type BitrateState struct {
	Level          BitrateLevel
	OptimalBitrate uint32
	CurrentBitrate uint32
	CooldownActive bool
}

// NewBitrateState starts at the optimal level.
func NewBitrateState(optimal uint32) BitrateState {
	return BitrateState{
		Level:          BitrateOptimal,
		OptimalBitrate: optimal,
		CurrentBitrate: optimal,
	}
}

// Percent returns CurrentBitrate as a percentage of OptimalBitrate.
func (b BitrateState) Percent() float64 {
	if b.OptimalBitrate == 0 {
		return 0
	}
	return float64(b.CurrentBitrate) / float64(b.OptimalBitrate) * 100
}

// Statistics describe the encoder and connection at the moment of a bitrate decision.
type Statistics struct {
	OptimalBitrate      uint32  `json:"optimal_bitrate"`
	CurrentBitrate      uint32  `json:"current_bitrate"`
	NewBitrate          uint32  `json:"new_bitrate"`
	OutBytesPerSecond   int32   `json:"out_bytes_per_second"`
	InBytesPerSecond    int32   `json:"in_bytes_per_second"`
	TotalBytesPerSecond int32   `json:"total_bytes_per_second"`
	CaptureFPS          float64 `json:"capture_fps"`
}

// TransportStats is the live counter set read from the media transport.
type TransportStats struct {
	OutBytesPerSecond int32
	InBytesPerSecond  int32
	CaptureFPS        float64
}
