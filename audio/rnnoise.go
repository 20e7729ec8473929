//go:build rnnoise && cgo

package audio

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
*/
import "C"

import (
	"errors"
	"unsafe"
)

// rnnoiseDenoiser wraps one RNNoise DenoiseState. RNNoise expects 480-sample
// frames in int16 scale, which matches the pipeline's sub-frame layout.
type rnnoiseDenoiser struct {
	state *C.DenoiseState
	out   []float32
}

// NewRecurrentDenoiser returns an RNNoise-backed Denoiser.
func NewRecurrentDenoiser() (Denoiser, error) {
	st := C.rnnoise_create(nil)
	if st == nil {
		return nil, errors.New("rnnoise_create returned nil")
	}
	return &rnnoiseDenoiser{state: st, out: make([]float32, FrameSize)}, nil
}

func (r *rnnoiseDenoiser) Process(frame []float32) (float32, error) {
	if r.state == nil {
		return 0, ErrDenoiserClosed
	}
	if len(frame) != FrameSize {
		return 0, ErrFrameLength
	}
	prob := C.rnnoise_process_frame(r.state,
		(*C.float)(unsafe.Pointer(&r.out[0])),
		(*C.float)(unsafe.Pointer(&frame[0])))
	copy(frame, r.out)
	return float32(prob), nil
}

func (r *rnnoiseDenoiser) Destroy() error {
	if r.state != nil {
		C.rnnoise_destroy(r.state)
		r.state = nil
	}
	return nil
}
