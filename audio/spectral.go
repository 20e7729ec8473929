package audio

// spectralSubtractor implements the classical denoiser: a noise floor learned
// from the first frames and tracked slowly afterwards, subtracted with
// over-subtraction and a spectral floor to limit musical noise.
type spectralSubtractor struct {
	stft             *stft
	noiseFloor       []float64
	frameCount       int
	suppressionLevel float64
}

const (
	learningFrames  = 10
	learningAlpha   = 0.8
	overSubtraction = 2.0
	spectralFloor   = 0.1
)

// NewSpectralSubtractor returns a classical spectral-subtraction Denoiser.
func NewSpectralSubtractor() (Denoiser, error) {
	return &spectralSubtractor{
		stft:             newSTFT(FrameSize),
		noiseFloor:       make([]float64, spectrumBins),
		suppressionLevel: 0.8,
	}, nil
}

// Process denoises one sub-frame in place. It never reports speech.
func (s *spectralSubtractor) Process(frame []float32) (float32, error) {
	if len(frame) != FrameSize {
		return 0, ErrFrameLength
	}
	err := s.stft.process(frame, s.shape)
	return 0, err
}

func (s *spectralSubtractor) shape(magnitude, gains []float64) error {
	s.updateNoiseFloor(magnitude)
	if s.frameCount < learningFrames {
		return nil
	}
	for k, m := range magnitude {
		if m <= 0 {
			continue
		}
		subtracted := m - overSubtraction*s.suppressionLevel*s.noiseFloor[k]
		if floor := spectralFloor * m; subtracted < floor {
			subtracted = floor
		}
		gains[k] = subtracted / m
	}
	return nil
}

// updateNoiseFloor learns the floor during the first frames, then follows
// bins that stay close to it so slow changes in background noise are tracked.
func (s *spectralSubtractor) updateNoiseFloor(magnitude []float64) {
	if s.frameCount < learningFrames {
		for k, m := range magnitude {
			if s.frameCount == 0 {
				s.noiseFloor[k] = m
			} else {
				s.noiseFloor[k] = learningAlpha*s.noiseFloor[k] + (1-learningAlpha)*m
			}
		}
		s.frameCount++
		return
	}
	for k, m := range magnitude {
		if m < 2*s.noiseFloor[k] {
			s.noiseFloor[k] = 0.98*s.noiseFloor[k] + 0.02*m
		} else {
			s.noiseFloor[k] = 0.9995*s.noiseFloor[k] + 0.0005*m
		}
	}
}

func (s *spectralSubtractor) Destroy() error {
	s.stft.reset()
	return nil
}
