package audio

import (
	"math"
	"math/cmplx"
)

// stftSize is the zero-padded transform length for one analysis window of
// two hops.
const stftSize = 1024

// spectrumBins is the number of non-negative frequency bins.
const spectrumBins = stftSize/2 + 1

// gainFunc fills gains (one per bin) from the magnitude spectrum of the
// current analysis window.
type gainFunc func(magnitude, gains []float64) error

// stft is a streaming short-time Fourier processor with 50% overlap.
//
// Each call consumes one hop of FrameSize samples and produces one hop of
// output delayed by one hop. Analysis and synthesis both use a periodic
// square-root Hann window, so an all-ones gain reconstructs the input
// exactly.
type stft struct {
	hop       int
	window    []float64
	history   []float64 // previous hop of input
	overlap   []float64 // synthesis tail awaiting the next hop
	spectrum  []complex128
	magnitude []float64
	gains     []float64
}

func newSTFT(hop int) *stft {
	size := 2 * hop
	window := make([]float64, size)
	for i := range window {
		window[i] = math.Sqrt(0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size))))
	}
	return &stft{
		hop:       hop,
		window:    window,
		history:   make([]float64, hop),
		overlap:   make([]float64, hop),
		spectrum:  make([]complex128, stftSize),
		magnitude: make([]float64, spectrumBins),
		gains:     make([]float64, spectrumBins),
	}
}

// process replaces frame with the filtered signal. len(frame) must equal hop.
func (s *stft) process(frame []float32, shape gainFunc) error {
	hop := s.hop
	for i := range s.spectrum {
		s.spectrum[i] = 0
	}
	for i := 0; i < hop; i++ {
		s.spectrum[i] = complex(s.history[i]*s.window[i], 0)
		s.spectrum[hop+i] = complex(float64(frame[i])*s.window[hop+i], 0)
		s.history[i] = float64(frame[i])
	}

	fft(s.spectrum)
	for k := 0; k < spectrumBins; k++ {
		s.magnitude[k] = cmplx.Abs(s.spectrum[k])
		s.gains[k] = 1
	}

	if err := shape(s.magnitude, s.gains); err != nil {
		return err
	}

	for k := 0; k < spectrumBins; k++ {
		g := complex(s.gains[k], 0)
		s.spectrum[k] *= g
		if k > 0 && k < stftSize/2 {
			s.spectrum[stftSize-k] *= g
		}
	}
	ifft(s.spectrum)

	for i := 0; i < hop; i++ {
		frame[i] = float32(s.overlap[i] + real(s.spectrum[i])*s.window[i])
		s.overlap[i] = real(s.spectrum[hop+i]) * s.window[hop+i]
	}
	return nil
}

// reset clears the analysis history and pending overlap.
func (s *stft) reset() {
	for i := range s.history {
		s.history[i] = 0
		s.overlap[i] = 0
	}
}
