package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrHandshakeFailed indicates the client greeting did not match
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrInvalidMessage indicates a payload that is not a valid MessageWrapper
	ErrInvalidMessage = errors.New("invalid message")
	// ErrConnection wraps unexpected transport faults returned by Session.Run
	ErrConnection = errors.New("connection error")
	// ErrSessionClosed indicates a send on a session that has ended
	ErrSessionClosed = errors.New("session closed")
	// ErrUnsupported indicates a link type unavailable on this platform
	ErrUnsupported = errors.New("link not supported on this platform")
)

// Mode selects the physical link the sender uses.
type Mode uint8

const (
	// ModeWiFi accepts TCP connections on the local network.
	ModeWiFi Mode = iota
	// ModeBluetooth accepts RFCOMM connections.
	ModeBluetooth
	// ModeUSB accepts TCP connections tunneled through adb reverse.
	ModeUSB
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeWiFi:
		return "wifi"
	case ModeBluetooth:
		return "bluetooth"
	case ModeUSB:
		return "usb"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps a configuration name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wifi", "wi-fi", "tcp", "lan":
		return ModeWiFi, nil
	case "bluetooth", "bt":
		return ModeBluetooth, nil
	case "usb", "adb":
		return ModeUSB, nil
	default:
		return ModeWiFi, fmt.Errorf("unknown connection mode %q", name)
	}
}

// Role distinguishes the listening host from a dialing client.
type Role uint8

const (
	// RoleServer listens for the sender.
	RoleServer Role = iota
	// RoleClient dials out; the host never acts as a client.
	RoleClient
)

// Handler receives decoded messages from a session. Calls are made from the
// session's reader goroutine, one at a time, in arrival order.
type Handler interface {
	HandleAudio(ctx context.Context, packet *AudioPacket)
	HandleMute(ctx context.Context, muted bool)
}

// Observer is notified of protocol-level events. Implementations must be safe
// for concurrent use; observe.Metrics satisfies it.
type Observer interface {
	FrameReceived(payloadBytes int)
	DecodeFailed()
	ResyncSkipped(bytes int)
	FrameOversized(length uint32)
	ControlDropped()
}

type nopObserver struct{}

func (nopObserver) FrameReceived(int)     {}
func (nopObserver) DecodeFailed()         {}
func (nopObserver) ResyncSkipped(int)     {}
func (nopObserver) FrameOversized(uint32) {}
func (nopObserver) ControlDropped()       {}

// Listener yields client byte streams.
type Listener interface {
	// Accept blocks until a client connects or ctx is done.
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	// Close stops listening and unblocks pending Accept calls.
	Close() error
	// Addr describes the local endpoint for logging.
	Addr() string
}
