package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// normalDisconnectPhrases match errors that lost their type on the way up,
// such as those surfaced by platform socket wrappers.
var normalDisconnectPhrases = []string{
	"socket closed",
	"connection reset",
	"broken pipe",
	"use of closed",
	"file already closed",
	"forcibly closed",
}

// IsNormalDisconnect reports whether err describes an orderly end of a
// session rather than a fault. Cancellation, end-of-stream, reset and broken
// pipe conditions all count as normal.
func IsNormalDisconnect(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, ErrSessionClosed):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range normalDisconnectPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
