package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Format identifies the sample encoding of a frame.
type Format uint32

const (
	// FormatUnknown is the zero value and never valid on the wire.
	FormatUnknown Format = 0
	// FormatPCM16 is signed 16-bit little-endian.
	FormatPCM16 Format = 2
	// FormatPCM8 is unsigned 8-bit with a 128 bias.
	FormatPCM8 Format = 3
	// FormatPCMFloat is 32-bit little-endian IEEE 754.
	FormatPCMFloat Format = 4
)

var (
	// ErrUnsupportedFormat indicates a sample encoding the bridge cannot convert
	ErrUnsupportedFormat = errors.New("unsupported sample format")

	// ErrInvalidFrame indicates a frame whose shape does not match its header
	ErrInvalidFrame = errors.New("invalid audio frame")
)

// String returns a human-readable representation of the format.
func (f Format) String() string {
	switch f {
	case FormatPCM16:
		return "pcm16"
	case FormatPCM8:
		return "pcm8"
	case FormatPCMFloat:
		return "float"
	default:
		return fmt.Sprintf("format(%d)", uint32(f))
	}
}

// BytesPerSample returns the width of one sample, or 0 for unknown formats.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatPCM16:
		return 2
	case FormatPCM8:
		return 1
	case FormatPCMFloat:
		return 4
	default:
		return 0
	}
}

// ParseFormat maps a configuration name to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "pcm16", "PCM_16BIT", "16":
		return FormatPCM16, nil
	case "pcm8", "PCM_8BIT", "8":
		return FormatPCM8, nil
	case "float", "PCM_FLOAT", "32":
		return FormatPCMFloat, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Frame is one block of interleaved audio as received from the sender.
type Frame struct {
	Buffer     []byte
	SampleRate uint32
	Channels   uint32
	Format     Format
}

// Validate checks that the frame header is usable and the buffer holds a
// whole number of sample groups.
func (fr Frame) Validate() error {
	bps := fr.Format.BytesPerSample()
	if bps == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, fr.Format)
	}
	if fr.SampleRate == 0 || fr.Channels == 0 {
		return fmt.Errorf("%w: sample rate %d, channels %d", ErrInvalidFrame, fr.SampleRate, fr.Channels)
	}
	if len(fr.Buffer)%(bps*int(fr.Channels)) != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidFrame, len(fr.Buffer), bps*int(fr.Channels))
	}
	return nil
}

// SamplesPerChannel returns the number of sample groups in the frame.
func (fr Frame) SamplesPerChannel() int {
	bps := fr.Format.BytesPerSample()
	if bps == 0 || fr.Channels == 0 {
		return 0
	}
	return len(fr.Buffer) / (bps * int(fr.Channels))
}

// Duration returns the playback time covered by the frame.
func (fr Frame) Duration() time.Duration {
	if fr.SampleRate == 0 {
		return 0
	}
	return time.Duration(fr.SamplesPerChannel()) * time.Second / time.Duration(fr.SampleRate)
}

// Int16 decodes the frame into signed 16-bit samples regardless of format.
func (fr Frame) Int16() ([]int16, error) {
	if err := fr.Validate(); err != nil {
		return nil, err
	}
	switch fr.Format {
	case FormatPCM16:
		return DecodeInt16(fr.Buffer), nil
	case FormatPCM8:
		out := make([]int16, len(fr.Buffer))
		for i, b := range fr.Buffer {
			out[i] = int16(int(b)-128) << 8
		}
		return out, nil
	case FormatPCMFloat:
		out := make([]int16, len(fr.Buffer)/4)
		for i := range out {
			v := math.Float32frombits(binary.LittleEndian.Uint32(fr.Buffer[i*4:]))
			out[i] = FloatToInt16(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fr.Format)
}

// ToPCM16 returns the frame re-encoded as FormatPCM16. PCM16 frames are
// returned unchanged without copying.
func ToPCM16(fr Frame) (Frame, error) {
	if fr.Format == FormatPCM16 {
		return fr, fr.Validate()
	}
	samples, err := fr.Int16()
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Buffer:     EncodeInt16(samples),
		SampleRate: fr.SampleRate,
		Channels:   fr.Channels,
		Format:     FormatPCM16,
	}, nil
}

// DecodeInt16 converts little-endian bytes to samples. A trailing odd byte is ignored.
func DecodeInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// EncodeInt16 converts samples to little-endian bytes.
func EncodeInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FloatToInt16 scales a [-1, 1] sample to int16 with saturation.
func FloatToInt16(v float32) int16 {
	s := float64(v) * 32767
	return ClampInt16(s)
}

// ClampInt16 rounds and saturates a sample to the int16 range.
func ClampInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// RMS returns the root-mean-square level of the samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}

// RMSBytes returns the RMS level of little-endian PCM16 data.
func RMSBytes(data []byte) float64 {
	return RMS(DecodeInt16(data))
}
