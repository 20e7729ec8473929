package transport

import (
	"fmt"
	"io"

	"github.com/opd-ai/micbridge/limits"
	"github.com/sirupsen/logrus"
)

const (
	// ClientHello is the greeting the sender writes first.
	ClientHello = "MicYouCheck1"
	// ServerHello is the host's reply; binary framing starts after it.
	ServerHello = "MicYouCheck2"
)

// ServerHandshake reads the client greeting and answers it.
//
// A stream that closes before any greeting byte arrives returns the plain
// close error, such as io.EOF, so the caller can treat it as a normal
// disconnect. A mismatched, truncated or timed-out greeting returns an
// error wrapping ErrHandshakeFailed.
func ServerHandshake(rw io.ReadWriter) error {
	buf := make([]byte, limits.HandshakeSize)
	n, err := io.ReadFull(rw, buf)
	if err != nil {
		if n == 0 && IsNormalDisconnect(err) {
			return err
		}
		return fmt.Errorf("%w: reading greeting after %d bytes: %w", ErrHandshakeFailed, n, err)
	}

	if string(buf) != ClientHello {
		logrus.WithFields(logrus.Fields{
			"function": "ServerHandshake",
			"received": fmt.Sprintf("%q", buf),
		}).Warn("Unexpected client greeting")
		return fmt.Errorf("%w: unexpected greeting %q", ErrHandshakeFailed, buf)
	}

	if _, err := rw.Write([]byte(ServerHello)); err != nil {
		return fmt.Errorf("%w: writing reply: %w", ErrHandshakeFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ServerHandshake",
	}).Debug("Handshake completed")
	return nil
}

// ClientHandshake performs the sender side of the handshake. The host never
// dials out; this exists for loopback tools and tests.
func ClientHandshake(rw io.ReadWriter) error {
	if _, err := rw.Write([]byte(ClientHello)); err != nil {
		return fmt.Errorf("%w: writing greeting: %w", ErrHandshakeFailed, err)
	}
	buf := make([]byte, limits.HandshakeSize)
	if _, err := io.ReadFull(rw, buf); err != nil {
		return fmt.Errorf("%w: reading reply: %w", ErrHandshakeFailed, err)
	}
	if string(buf) != ServerHello {
		return fmt.Errorf("%w: unexpected reply %q", ErrHandshakeFailed, buf)
	}
	return nil
}
