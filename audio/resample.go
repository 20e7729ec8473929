package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved PCM16 between sample rates with linear
// interpolation. State carries across calls so a stream can be converted
// in arbitrary chunks without discontinuities.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	channels   int
	last       []int16 // final sample group of the previous call
	position   float64 // read position relative to the current call's first group
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of interleaved channels
}

// NewResampler creates a new audio resampler instance.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: invalid rates or channel count
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		return nil, fmt.Errorf("%w: sample rates input=%d output=%d", ErrInvalidConfig, config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidConfig, config.Channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Audio resampler created")

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		last:       make([]int16, config.Channels),
	}, nil
}

// Resample converts input and returns the samples produced so far. The
// output length tracks the rate ratio over successive calls.
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not aligned to %d channels", ErrInvalidConfig, len(input), r.channels)
	}
	if r.inputRate == r.outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out, nil
	}
	frames := len(input) / r.channels
	if frames == 0 {
		return nil, nil
	}

	step := float64(r.inputRate) / float64(r.outputRate)
	output := make([]int16, 0, int(float64(frames)/step+2)*r.channels)

	// Index -1 refers to the last group of the previous call.
	for r.position < float64(frames-1) {
		index := int(math.Floor(r.position))
		frac := r.position - float64(index)
		for ch := 0; ch < r.channels; ch++ {
			s0 := r.sampleAt(input, index, ch)
			s1 := r.sampleAt(input, index+1, ch)
			output = append(output, int16(math.Round(float64(s0)*(1-frac)+float64(s1)*frac)))
		}
		r.position += step
	}

	r.position -= float64(frames)
	copy(r.last, input[len(input)-r.channels:])
	return output, nil
}

func (r *Resampler) sampleAt(input []int16, index, ch int) int16 {
	if index < 0 {
		return r.last[ch]
	}
	return input[index*r.channels+ch]
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 {
	return r.inputRate
}

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 {
	return r.outputRate
}

// GetChannels returns the configured channel count.
func (r *Resampler) GetChannels() int {
	return r.channels
}

// Reset clears the interpolation state.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.last {
		r.last[i] = 0
	}
}
