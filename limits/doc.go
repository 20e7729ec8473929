// Package limits provides centralized size limits for the microphone bridge
// wire protocol and output buffers. Keeping the constants in one place ensures
// the frame reader, the session writer and the output router agree on them.
//
// # Size Hierarchy
//
//   - HandshakeSize (12 bytes): the fixed length of both handshake literals.
//
//   - FrameHeaderSize (8 bytes): magic word plus payload length, both big-endian.
//
//   - MaxFramePayload (2 MiB): the largest payload a frame may declare. Frames
//     that declare more are skipped by the reader rather than allocated.
//
//   - MinOutputBuffer / MaxOutputBuffer: the clamp applied to the playback
//     buffer, which is otherwise sized to 100 ms of audio.
//
// # Validation Functions
//
//	if err := limits.ValidateFramePayload(payload); err != nil {
//	    // ErrMessageTooLarge
//	}
//
//	size := limits.OutputBufferSize(48000, 2, 2)
//
// # Security Considerations
//
// MaxFramePayload bounds the allocation a remote peer can force with a single
// length field. All network-received lengths must be checked against it before
// any buffer is allocated.
package limits
