//go:build !linux

package transport

import (
	"context"
	"fmt"
	"io"
)

// RFCOMMListener is unavailable on this platform.
type RFCOMMListener struct{}

// ListenRFCOMM reports ErrUnsupported outside Linux.
func ListenRFCOMM(channel int) (*RFCOMMListener, error) {
	return nil, fmt.Errorf("%w: rfcomm channel %d", ErrUnsupported, channel)
}

// Accept always fails.
func (l *RFCOMMListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupported
}

// Close is a no-op.
func (l *RFCOMMListener) Close() error { return nil }

// Addr returns a placeholder.
func (l *RFCOMMListener) Addr() string { return "rfcomm:unsupported" }
