//go:build linux

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pollInterval bounds how long Accept waits before re-checking ctx.
const pollInterval = 250

// RFCOMMListener accepts Bluetooth RFCOMM connections on a fixed channel.
type RFCOMMListener struct {
	mu      sync.Mutex
	fd      int
	channel uint8
	closed  bool
}

// ListenRFCOMM binds an RFCOMM socket to channel on any local adapter.
// Channels range from 1 to 30.
func ListenRFCOMM(channel int) (*RFCOMMListener, error) {
	if channel < 1 || channel > 30 {
		return nil, fmt.Errorf("rfcomm channel %d out of range 1-30", channel)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: uint8(channel)}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm bind channel %d: %w", channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm listen: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenRFCOMM",
		"channel":  channel,
	}).Info("RFCOMM listener started")

	return &RFCOMMListener{fd: fd, channel: uint8(channel)}, nil
}

// Accept blocks until a device connects or ctx is done.
func (l *RFCOMMListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, os.ErrClosed
		}
		fd := l.fd
		l.mu.Unlock()

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("rfcomm poll: %w", err)
		}
		if n == 0 {
			continue
		}

		nfd, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("rfcomm accept: %w", err)
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			return nil, fmt.Errorf("rfcomm nonblock: %w", err)
		}

		remote := "unknown"
		if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
			remote = formatBDAddr(rc.Addr)
		}
		logrus.WithFields(logrus.Fields{
			"function": "RFCOMMListener.Accept",
			"remote":   remote,
		}).Info("Accepted RFCOMM connection")

		// A non-blocking descriptor is registered with the runtime poller, so
		// Close unblocks pending reads.
		return os.NewFile(uintptr(nfd), "rfcomm:"+remote), nil
	}
}

// Close stops the listener. It is safe to call more than once.
func (l *RFCOMMListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

// Addr describes the listening channel.
func (l *RFCOMMListener) Addr() string {
	return fmt.Sprintf("rfcomm:%d", l.channel)
}

// formatBDAddr renders a Bluetooth address, stored little-endian by the kernel.
func formatBDAddr(a [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
