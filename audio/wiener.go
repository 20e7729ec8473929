//go:build !rnnoise || !cgo

package audio

import "math"

// wienerDenoiser is the pure-Go recurrent denoiser used when RNNoise is not
// linked in. It applies a decision-directed Wiener gain per bin and derives a
// speech probability from the a priori SNR in the voice band.
type wienerDenoiser struct {
	stft       *stft
	noisePSD   []float64
	prevGain   []float64
	prevPost   []float64
	frameCount int
	speech     float64
}

const (
	wienerAlpha    = 0.98
	wienerMinGain  = 0.1
	voiceBandStart = 6  // ~280 Hz at 48 kHz
	voiceBandEnd   = 86 // ~4 kHz at 48 kHz
)

// NewRecurrentDenoiser returns the recurrent Denoiser available in this build.
func NewRecurrentDenoiser() (Denoiser, error) {
	return &wienerDenoiser{
		stft:     newSTFT(FrameSize),
		noisePSD: make([]float64, spectrumBins),
		prevGain: make([]float64, spectrumBins),
		prevPost: make([]float64, spectrumBins),
	}, nil
}

func (w *wienerDenoiser) Process(frame []float32) (float32, error) {
	if len(frame) != FrameSize {
		return 0, ErrFrameLength
	}
	if err := w.stft.process(frame, w.shape); err != nil {
		return 0, err
	}
	return float32(w.speech), nil
}

func (w *wienerDenoiser) shape(magnitude, gains []float64) error {
	learning := w.frameCount < learningFrames
	var bandSNR float64
	for k, m := range magnitude {
		power := m * m
		if learning {
			if w.frameCount == 0 {
				w.noisePSD[k] = power
			} else {
				w.noisePSD[k] = learningAlpha*w.noisePSD[k] + (1-learningAlpha)*power
			}
		} else if power < 4*w.noisePSD[k] {
			w.noisePSD[k] = 0.95*w.noisePSD[k] + 0.05*power
		} else {
			w.noisePSD[k] = 0.999*w.noisePSD[k] + 0.001*power
		}
		noise := math.Max(w.noisePSD[k], 1e-3)

		post := power / noise
		prio := wienerAlpha*w.prevGain[k]*w.prevGain[k]*w.prevPost[k] + (1-wienerAlpha)*math.Max(post-1, 0)
		gain := prio / (1 + prio)
		if gain < wienerMinGain {
			gain = wienerMinGain
		}
		w.prevGain[k] = gain
		w.prevPost[k] = post

		if !learning {
			gains[k] = gain
		}
		if k >= voiceBandStart && k < voiceBandEnd {
			bandSNR += prio
		}
	}
	if learning {
		w.frameCount++
		w.speech = 0
		return nil
	}
	bandSNR /= voiceBandEnd - voiceBandStart
	w.speech = bandSNR / (1 + bandSNR)
	return nil
}

func (w *wienerDenoiser) Destroy() error {
	w.stft.reset()
	return nil
}
