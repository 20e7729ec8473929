// Package pcm defines the audio frame carried between the transport, the
// processing pipeline and the output router, together with the sample
// conversions shared by all three.
//
// Frames hold interleaved little-endian samples. The Format values match the
// encoding constants used by the Android sender, so they travel on the wire
// unchanged:
//
//	FormatPCM16    = 2  // signed 16-bit
//	FormatPCM8     = 3  // unsigned 8-bit
//	FormatPCMFloat = 4  // 32-bit IEEE float in [-1, 1]
//
// The processing pipeline works on signed 16-bit samples only. ToPCM16
// converts any supported frame into that representation.
package pcm
