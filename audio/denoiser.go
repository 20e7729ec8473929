package audio

import (
	"errors"
	"fmt"

	"github.com/opd-ai/micbridge/pcm"
	"github.com/sirupsen/logrus"
)

var (
	// ErrFrameLength indicates a sub-frame that is not FrameSize samples long
	ErrFrameLength = errors.New("denoiser frame must be FrameSize samples")
	// ErrDenoiserClosed indicates use of a destroyed denoiser handle
	ErrDenoiserClosed = errors.New("denoiser destroyed")
)

// Denoiser is one channel's noise-suppression state.
type Denoiser interface {
	// Process denoises FrameSize samples in int16 scale in place and returns
	// a speech probability in [0, 1]. Strategies without a speech model
	// return 0.
	Process(frame []float32) (float32, error)
	// Destroy releases the handle. It is safe to call more than once.
	Destroy() error
}

// DenoiserFactory creates a fresh Denoiser handle.
type DenoiserFactory func() (Denoiser, error)

// NoiseSuppressor is the noise stage. It splits interleaved input into
// FrameSize sub-frames, runs one Denoiser per channel and carries any
// remainder into the next call.
type NoiseSuppressor struct {
	algorithm NoiseAlgorithm
	factory   DenoiserFactory
	handles   []Denoiser
	failed    bool
	carry     []int16
	scratch   []float32

	speech    float32
	hasSpeech bool
}

// NewNoiseSuppressor creates the noise stage for algorithm. Handles are not
// created until the first full sub-frame arrives.
func NewNoiseSuppressor(algorithm NoiseAlgorithm, factory DenoiserFactory) *NoiseSuppressor {
	return &NoiseSuppressor{
		algorithm: algorithm,
		factory:   factory,
		scratch:   make([]float32, FrameSize),
	}
}

// Algorithm returns the active strategy.
func (n *NoiseSuppressor) Algorithm() NoiseAlgorithm {
	return n.algorithm
}

// SetAlgorithm switches strategy. Handles of the previous strategy are
// destroyed; the carry is kept.
func (n *NoiseSuppressor) SetAlgorithm(algorithm NoiseAlgorithm, factory DenoiserFactory) error {
	if algorithm == n.algorithm {
		return nil
	}
	err := n.destroyHandles()
	n.algorithm = algorithm
	n.factory = factory
	n.failed = false
	n.hasSpeech = false
	return err
}

// Process denoises every complete sub-frame in carry+samples and returns them.
// The result may be shorter than the input; it is empty when less than one
// sub-frame is available.
func (n *NoiseSuppressor) Process(samples []int16, channels int) ([]int16, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channels %d", ErrInvalidConfig, channels)
	}
	buf := samples
	if len(n.carry) > 0 {
		buf = append(n.TakeCarry(), samples...)
	}

	if n.failed {
		return buf, nil
	}

	block := FrameSize * channels
	complete := len(buf) / block * block
	if complete > 0 && !n.ensureHandles(channels) {
		return buf, nil
	}
	if rest := buf[complete:]; len(rest) > 0 {
		n.carry = append(n.carry[:0], rest...)
	}
	out := buf[:complete]

	var probSum float32
	var probCount int
	for off := 0; off < complete; off += block {
		sub := out[off : off+block]
		for c := 0; c < channels; c++ {
			for i := 0; i < FrameSize; i++ {
				n.scratch[i] = float32(sub[i*channels+c])
			}
			prob, err := n.handles[c].Process(n.scratch)
			if err != nil {
				return nil, fmt.Errorf("denoise channel %d: %w", c, err)
			}
			for i := 0; i < FrameSize; i++ {
				sub[i*channels+c] = pcm.ClampInt16(float64(n.scratch[i]))
			}
			probSum += prob
			probCount++
		}
	}

	if probCount > 0 && n.algorithm == NoiseRecurrent {
		n.speech = probSum / float32(probCount)
		n.hasSpeech = true
	}
	return out, nil
}

// ensureHandles creates missing per-channel handles. A creation failure puts
// the stage into passthrough until Reset.
func (n *NoiseSuppressor) ensureHandles(channels int) bool {
	if len(n.handles) > channels {
		for _, h := range n.handles[channels:] {
			_ = h.Destroy()
		}
		n.handles = n.handles[:channels]
	}
	for len(n.handles) < channels {
		if n.factory == nil {
			n.fail(errors.New("no denoiser factory"))
			return false
		}
		h, err := n.factory()
		if err != nil {
			n.fail(err)
			return false
		}
		n.handles = append(n.handles, h)
	}
	return true
}

func (n *NoiseSuppressor) fail(err error) {
	n.failed = true
	logrus.WithFields(logrus.Fields{
		"function":  "NoiseSuppressor.ensureHandles",
		"algorithm": string(n.algorithm),
		"error":     err.Error(),
	}).Warn("Denoiser unavailable, noise suppression passes audio through")
}

// SpeechProbability returns the mean speech probability of the last call
// and whether the active strategy provides one.
func (n *NoiseSuppressor) SpeechProbability() (float32, bool) {
	return n.speech, n.hasSpeech
}

// Pending returns the number of carried samples.
func (n *NoiseSuppressor) Pending() int {
	return len(n.carry)
}

// TakeCarry returns and clears the carried samples.
func (n *NoiseSuppressor) TakeCarry() []int16 {
	if len(n.carry) == 0 {
		return nil
	}
	out := make([]int16, len(n.carry))
	copy(out, n.carry)
	n.carry = n.carry[:0]
	return out
}

// GetName returns the effect name for debugging and logging.
func (n *NoiseSuppressor) GetName() string {
	return "NoiseSuppression(" + string(n.algorithm) + ")"
}

// Reset drops the carry and the speech estimate. Handles are kept; a failed
// strategy is retried on the next frame.
func (n *NoiseSuppressor) Reset() {
	n.carry = n.carry[:0]
	n.failed = false
	n.hasSpeech = false
	n.speech = 0
}

// Close destroys every handle. The stage recreates them lazily if used again.
func (n *NoiseSuppressor) Close() error {
	n.Reset()
	return n.destroyHandles()
}

func (n *NoiseSuppressor) destroyHandles() error {
	var errs []error
	for i, h := range n.handles {
		if err := h.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("handle %d: %w", i, err))
		}
	}
	n.handles = nil
	return errors.Join(errs...)
}
