package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrTunnel indicates the USB reverse tunnel could not be established
	ErrTunnel = errors.New("usb tunnel setup failed")
	// ErrListen indicates the listener could not be opened
	ErrListen = errors.New("listener setup failed")
	// ErrStopped indicates Start was interrupted by Stop
	ErrStopped = errors.New("supervisor stopped")
)

// StreamState is the supervisor's position in the streaming lifecycle.
type StreamState int

const (
	// StateIdle means no listener is running.
	StateIdle StreamState = iota
	// StateConnecting means the listener waits for a sender.
	StateConnecting
	// StateStreaming means a sender completed the handshake.
	StateStreaming
	// StateError means the last job failed; LastError holds the message.
	StateError
)

// String returns a human-readable representation of the state.
func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time copy of the telemetry values.
type Status struct {
	State     StreamState
	LastError string
	Level     float64
	Muted     bool
}
