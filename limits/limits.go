// Package limits provides centralized size limits for the microphone bridge.
package limits

import (
	"errors"
	"fmt"
)

const (
	// HandshakeSize is the length of the client and server handshake literals.
	HandshakeSize = 12

	// FrameHeaderSize is the size of the magic word plus the payload length.
	FrameHeaderSize = 8

	// MaxFramePayload is the largest payload a frame may declare (2 MiB).
	MaxFramePayload = 2 * 1024 * 1024

	// MinOutputBuffer is the smallest playback buffer in bytes.
	MinOutputBuffer = 4096

	// MaxOutputBuffer is the largest playback buffer in bytes.
	MaxOutputBuffer = 65536
)

// ErrMessageTooLarge indicates a payload exceeds the maximum size
var ErrMessageTooLarge = errors.New("message too large")

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
// An empty message is valid.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFramePayload validates an outbound frame payload against MaxFramePayload.
func ValidateFramePayload(payload []byte) error {
	return ValidateMessageSize(payload, MaxFramePayload)
}

// FrameLengthAllowed reports whether a declared frame length may be read.
// A zero length is allowed: the frame carries an empty payload.
func FrameLengthAllowed(length uint32) bool {
	return uint64(length) <= MaxFramePayload
}

// OutputBufferSize returns the playback buffer size in bytes for the given
// stream format: 100 ms of audio clamped to [MinOutputBuffer, MaxOutputBuffer].
// Non-positive inputs yield MinOutputBuffer.
func OutputBufferSize(sampleRate, channels, bytesPerSample int) int {
	if sampleRate <= 0 || channels <= 0 || bytesPerSample <= 0 {
		return MinOutputBuffer
	}
	size := sampleRate * channels * bytesPerSample / 10
	if size < MinOutputBuffer {
		return MinOutputBuffer
	}
	if size > MaxOutputBuffer {
		return MaxOutputBuffer
	}
	return size
}
