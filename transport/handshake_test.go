package transport

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rw joins a reader and a writer for handshake tests.
type rw struct {
	io.Reader
	io.Writer
}

func TestServerHandshake(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   error
		wantReply string
	}{
		{"valid greeting", ClientHello, nil, ServerHello},
		{"wrong greeting", "HelloServer!", ErrHandshakeFailed, ""},
		{"short greeting", "MicYou", ErrHandshakeFailed, ""},
		{"short greeting wraps end of stream", "MicYou", io.ErrUnexpectedEOF, ""},
		{"no bytes", "", io.EOF, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := ServerHandshake(rw{Reader: bytes.NewBufferString(tt.input), Writer: &out})
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantReply, out.String())
		})
	}
}

func TestHandshakeLiterals(t *testing.T) {
	assert.Len(t, ClientHello, 12)
	assert.Len(t, ServerHello, 12)
}

func TestClientServerHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- ServerHandshake(server) }()

	require.NoError(t, ClientHandshake(client))
	require.NoError(t, <-done)
}
