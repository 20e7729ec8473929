// Package transport implements the wire protocol spoken between the Android
// microphone sender and the host: a fixed ASCII handshake followed by
// magic-prefixed, length-delimited frames carrying protobuf-encoded messages.
//
// # Architecture
//
// A Listener yields one byte stream per client. Each stream is wrapped in a
// Session which performs the handshake and then runs two goroutines: a reader
// that decodes frames and dispatches them to a Handler, and a writer that
// drains the ordered send queue. Only one session is active at a time; Serve
// accepts the next client after the current session ends normally.
//
//	ln, err := transport.ListenTCP(":6000")
//	err = transport.Serve(ctx, ln, func(ctx context.Context, conn io.ReadWriteCloser) error {
//	    return transport.NewSession(conn, handler).Run(ctx)
//	})
//
// # Wire Format
//
// Handshake: the client writes "MicYouCheck1", the server answers
// "MicYouCheck2". Both literals are 12 ASCII bytes.
//
// Framing, all integers big-endian:
//
//	[magic u32 = 0x4D494359][length u32][payload: length bytes]
//
// Payloads are protobuf messages:
//
//	MessageWrapper { 1: AudioEnvelope, 2: MuteMessage }   exactly one set
//	AudioEnvelope  { 1: AudioPacket, 2: sequence uint64 }
//	AudioPacket    { 1: buffer bytes, 2: sample_rate, 3: channel_count, 4: format }
//	MuteMessage    { 1: is_muted bool }
//
// # Resynchronization
//
// When the four bytes at the read position are not the magic value, the reader
// rolls a 32-bit window forward one byte at a time until it matches. Frames
// declaring more than limits.MaxFramePayload bytes are skipped without reading
// their payload; the reader then resynchronizes on the next magic value.
// Zero-length frames are ignored. A payload that fails to decode is logged and
// the session continues.
//
// # Disconnect Classification
//
// IsNormalDisconnect separates orderly endings (EOF, connection reset, broken
// pipe, closed sockets, cancellation) from faults. Session.Run returns nil for
// the former and an error wrapping ErrConnection for the latter.
//
// # Links
//
// TCP is used for Wi-Fi and for USB, where ADBTunnel sets up
// "adb reverse tcp:P tcp:P" so the phone reaches the host over the cable.
// Bluetooth uses an RFCOMM socket on Linux (ListenRFCOMM); other platforms
// report ErrUnsupported.
package transport
