package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TCPListener accepts sender connections over TCP. It serves Wi-Fi mode and
// USB mode, where adb reverse forwards the phone's loopback port to it.
type TCPListener struct {
	listener *net.TCPListener
	mu       sync.Mutex
	closed   bool
}

// ListenTCP starts listening on addr, e.g. ":6000" or "0.0.0.0:6000".
func ListenTCP(addr string) (*TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenTCP",
		"addr":     ln.Addr().String(),
	}).Info("TCP listener started")

	return &TCPListener{listener: ln}, nil
}

// Accept blocks until a client connects or ctx is done.
func (l *TCPListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := l.listener.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		// A past deadline unblocks AcceptTCP without closing the listener.
		_ = l.listener.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	conn, err := l.listener.AcceptTCP()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	_ = conn.SetNoDelay(true)
	_ = conn.SetKeepAlive(true)

	logrus.WithFields(logrus.Fields{
		"function": "TCPListener.Accept",
		"remote":   conn.RemoteAddr().String(),
	}).Info("Accepted TCP connection")

	return conn, nil
}

// Close stops the listener. It is safe to call more than once.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

// Addr returns the bound address.
func (l *TCPListener) Addr() string {
	return l.listener.Addr().String()
}

// Port returns the bound TCP port.
func (l *TCPListener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// ConnHandler processes one accepted stream and returns when it ends.
type ConnHandler func(ctx context.Context, conn io.ReadWriteCloser) error

// Serve accepts clients one at a time and hands each to handle. The next
// client is accepted only after handle returns nil. Serve returns nil when
// ctx is done and the handler's error when it fails. The listener is closed
// on return.
func Serve(ctx context.Context, ln Listener, handle ConnHandler) error {
	defer ln.Close()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: accept on %s: %w", ErrConnection, ln.Addr(), err)
		}

		if err := handle(ctx, conn); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"function": "Serve",
			"addr":     ln.Addr(),
		}).Info("Waiting for next client")
	}
}
