package audio

import (
	"fmt"
	"math"
)

const (
	// vadHangoverBlocks keeps the gate open for 200 ms after the last voiced block.
	vadHangoverBlocks = 20
	vadOpenStep       = 1.0 / 480
	vadCloseStep      = 1.0 / 4800
)

// VoiceGate is the VAD stage: an RMS gate with hangover and ramped
// attenuation. When a speech probability is supplied for the buffer it
// replaces the level test.
type VoiceGate struct {
	thresholdDB   float64
	probThreshold float64
	hold          int
	gain          float64
	closed        bool

	speech    float32
	hasSpeech bool
}

// NewVoiceGate creates a gate with sensitivity on a 0-100 scale. Higher
// values need louder input to open.
func NewVoiceGate(threshold int) (*VoiceGate, error) {
	v := &VoiceGate{}
	if err := v.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return v, nil
}

// SetThreshold maps 0-100 onto -70..-10 dBFS and onto a speech probability
// of 0.05..0.95.
func (v *VoiceGate) SetThreshold(threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("%w: vad threshold %d outside 0-100", ErrInvalidConfig, threshold)
	}
	v.thresholdDB = -70 + 0.6*float64(threshold)
	v.probThreshold = 0.05 + 0.9*float64(threshold)/100
	return nil
}

// SetSpeechProbability supplies the denoiser's estimate for the next buffer.
func (v *VoiceGate) SetSpeechProbability(prob float32, ok bool) {
	v.speech, v.hasSpeech = prob, ok
}

// Process gates samples in place.
func (v *VoiceGate) Process(samples []int16, channels int) ([]int16, error) {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	closed := true
	for start := 0; start < frames; start += FrameSize {
		end := min(start+FrameSize, frames)
		block := samples[start*channels : end*channels]

		if v.voiced(block) {
			v.hold = vadHangoverBlocks
		} else if v.hold > 0 {
			v.hold--
		}
		target := 0.0
		if v.hold > 0 {
			target = 1.0
		}

		for f := 0; f < end-start; f++ {
			if v.gain < target {
				v.gain = math.Min(target, v.gain+vadOpenStep)
			} else if v.gain > target {
				v.gain = math.Max(target, v.gain-vadCloseStep)
			}
			if v.gain > 0 {
				closed = false
			}
			base := f * channels
			for c := 0; c < channels; c++ {
				block[base+c] = int16(math.Round(float64(block[base+c]) * v.gain))
			}
		}
	}
	v.closed = closed
	v.hasSpeech = false
	return samples, nil
}

func (v *VoiceGate) voiced(block []int16) bool {
	if v.hasSpeech {
		return float64(v.speech) >= v.probThreshold
	}
	rms := 0.0
	if len(block) > 0 {
		var sum float64
		for _, s := range block {
			f := float64(s) / 32768.0
			sum += f * f
		}
		rms = math.Sqrt(sum / float64(len(block)))
	}
	return 20*math.Log10(rms+1e-9) >= v.thresholdDB
}

// Closed reports whether the last buffer was fully attenuated.
func (v *VoiceGate) Closed() bool {
	return v.closed
}

// GetName returns the effect name for debugging and logging.
func (v *VoiceGate) GetName() string {
	return fmt.Sprintf("VoiceGate(%.0fdB)", v.thresholdDB)
}

// Reset closes the gate and forgets the hangover.
func (v *VoiceGate) Reset() {
	v.hold = 0
	v.gain = 0
	v.closed = false
	v.hasSpeech = false
}

// Close releases effect resources (no-op for the gate).
func (v *VoiceGate) Close() error {
	return nil
}
