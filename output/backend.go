package output

import (
	"context"
	"errors"

	"github.com/opd-ai/micbridge/device"
)

var (
	// ErrNotInitialized indicates Write before a successful Init
	ErrNotInitialized = errors.New("audio output not initialized")
	// ErrNoDevice indicates no playback device could be opened
	ErrNoDevice = errors.New("no playback device could be opened")
	// ErrInvalidFormat indicates an unusable sample rate or channel count
	ErrInvalidFormat = errors.New("invalid output format")
	// ErrUnaligned indicates a buffer that is not whole sample frames
	ErrUnaligned = errors.New("buffer length is not a whole number of frames")
	// ErrClosed indicates the output was released while writing
	ErrClosed = errors.New("audio output closed")
	// ErrBackendUnavailable indicates the binary was built without an audio backend
	ErrBackendUnavailable = errors.New("audio backend unavailable in this build")
)

// Source fills p with interleaved little-endian PCM16 audio. It is called
// from the device's audio thread and must not block.
type Source func(p []byte)

// StreamConfig selects a playback device and format. An empty DeviceID
// opens the system default.
type StreamConfig struct {
	DeviceID   string
	SampleRate int
	Channels   int
}

// Stream is an opened playback device.
type Stream interface {
	Start() error
	Close() error
	// SampleRate and Channels describe what the device consumes, which
	// may differ from what was requested.
	SampleRate() int
	Channels() int
}

// Backend enumerates and opens playback devices. Every Backend is also a
// device.Enumerator.
type Backend interface {
	Devices(ctx context.Context) ([]device.Info, error)
	Open(cfg StreamConfig, source Source) (Stream, error)
}
