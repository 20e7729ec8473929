//go:build !cgo

package output

import (
	"context"

	"github.com/opd-ai/micbridge/device"
)

// MalgoBackend is unavailable without cgo.
type MalgoBackend struct{}

// NewMalgoBackend reports ErrBackendUnavailable when built without cgo.
func NewMalgoBackend() (*MalgoBackend, error) {
	return nil, ErrBackendUnavailable
}

// Devices reports ErrBackendUnavailable.
func (*MalgoBackend) Devices(context.Context) ([]device.Info, error) {
	return nil, ErrBackendUnavailable
}

// Open reports ErrBackendUnavailable.
func (*MalgoBackend) Open(StreamConfig, Source) (Stream, error) {
	return nil, ErrBackendUnavailable
}

// Close is a no-op.
func (*MalgoBackend) Close() error { return nil }
