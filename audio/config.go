package audio

import (
	"errors"
	"fmt"
	"math"
)

// FrameSize is the number of samples per channel in one noise-suppression
// sub-frame (10 ms at 48 kHz).
const FrameSize = 480

// NoiseAlgorithm selects the noise-suppression strategy.
type NoiseAlgorithm string

const (
	// NoiseRecurrent is the recurrent neural denoiser (RNNoise).
	NoiseRecurrent NoiseAlgorithm = "recurrent"
	// NoiseSpectralModel is an ONNX spectral-mask model.
	NoiseSpectralModel NoiseAlgorithm = "spectral-model"
	// NoiseClassical is spectral subtraction.
	NoiseClassical NoiseAlgorithm = "classical"
)

// Valid reports whether the algorithm is known.
func (a NoiseAlgorithm) Valid() bool {
	switch a {
	case NoiseRecurrent, NoiseSpectralModel, NoiseClassical:
		return true
	}
	return false
}

var (
	// ErrInvalidConfig indicates a parameter outside its documented range
	ErrInvalidConfig = errors.New("invalid pipeline config")
)

// Config is the tunable state of the processing pipeline.
type Config struct {
	NoiseSuppression bool           `mapstructure:"noise_suppression" yaml:"noise_suppression"`
	NoiseAlgorithm   NoiseAlgorithm `mapstructure:"noise_algorithm" yaml:"noise_algorithm"`
	AGC              bool           `mapstructure:"agc" yaml:"agc"`
	// AGCTarget is the loudness target on a 0-100 scale.
	AGCTarget int  `mapstructure:"agc_target" yaml:"agc_target"`
	VAD       bool `mapstructure:"vad" yaml:"vad"`
	// VADThreshold is the gate sensitivity on a 0-100 scale; higher gates more.
	VADThreshold int  `mapstructure:"vad_threshold" yaml:"vad_threshold"`
	Dereverb     bool `mapstructure:"dereverb" yaml:"dereverb"`
	// DereverbLevel is the tail reduction strength in [0, 1].
	DereverbLevel float64 `mapstructure:"dereverb_level" yaml:"dereverb_level"`
	// Amplification is a linear gain in [0, 60]; 1.0 leaves samples untouched.
	Amplification float64 `mapstructure:"amplification" yaml:"amplification"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		NoiseSuppression: false,
		NoiseAlgorithm:   NoiseRecurrent,
		AGC:              false,
		AGCTarget:        30,
		VAD:              false,
		VADThreshold:     10,
		Dereverb:         false,
		DereverbLevel:    0.5,
		Amplification:    1.0,
	}
}

// Validate checks every field against its range and returns all violations.
func (c Config) Validate() error {
	var errs []error
	if !c.NoiseAlgorithm.Valid() {
		errs = append(errs, fmt.Errorf("%w: noise_algorithm %q", ErrInvalidConfig, c.NoiseAlgorithm))
	}
	if c.AGCTarget < 0 || c.AGCTarget > 100 {
		errs = append(errs, fmt.Errorf("%w: agc_target %d outside 0-100", ErrInvalidConfig, c.AGCTarget))
	}
	if c.VADThreshold < 0 || c.VADThreshold > 100 {
		errs = append(errs, fmt.Errorf("%w: vad_threshold %d outside 0-100", ErrInvalidConfig, c.VADThreshold))
	}
	if math.IsNaN(c.DereverbLevel) || c.DereverbLevel < 0 || c.DereverbLevel > 1 {
		errs = append(errs, fmt.Errorf("%w: dereverb_level %.2f outside 0-1", ErrInvalidConfig, c.DereverbLevel))
	}
	if math.IsNaN(c.Amplification) || c.Amplification < 0 || c.Amplification > MaxAmplification {
		errs = append(errs, fmt.Errorf("%w: amplification %.2f outside 0-%.0f", ErrInvalidConfig, c.Amplification, MaxAmplification))
	}
	return errors.Join(errs...)
}
