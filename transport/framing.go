package transport

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/opd-ai/micbridge/limits"
	"github.com/sirupsen/logrus"
)

// Magic prefixes every frame ("MICY").
const Magic uint32 = 0x4D494359

// AppendFrame appends the framed form of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, Magic)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := limits.ValidateFramePayload(payload); err != nil {
		return err
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, limits.FrameHeaderSize+len(payload)), payload))
	return err
}

// FrameReader extracts frame payloads from a byte stream, resynchronizing on
// the magic value after corruption and skipping oversized or empty frames.
type FrameReader struct {
	r        *bufio.Reader
	observer Observer
	header   [4]byte
}

// NewFrameReader creates a reader over r. A nil observer discards events.
func NewFrameReader(r io.Reader, observer Observer) *FrameReader {
	if observer == nil {
		observer = nopObserver{}
	}
	return &FrameReader{
		r:        bufio.NewReaderSize(r, 64*1024),
		observer: observer,
	}
}

// ReadFrame returns the next frame payload. It blocks until a complete frame
// is available. io.EOF is returned when the stream ends on a frame boundary;
// a stream that ends inside a frame returns io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		window, err := fr.readUint32()
		if err != nil {
			return nil, err
		}

		if window != Magic {
			if window, err = fr.resync(window); err != nil {
				return nil, err
			}
		}

		length, err := fr.readUint32()
		if err != nil {
			return nil, unexpected(err)
		}

		if !limits.FrameLengthAllowed(length) {
			logrus.WithFields(logrus.Fields{
				"function": "FrameReader.ReadFrame",
				"length":   length,
				"limit":    limits.MaxFramePayload,
			}).Warn("Skipping oversized frame")
			fr.observer.FrameOversized(length)
			continue
		}

		if length == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "FrameReader.ReadFrame",
			}).Debug("Skipping empty frame")
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, unexpected(err)
		}
		fr.observer.FrameReceived(len(payload))
		return payload, nil
	}
}

// resync rolls the window forward one byte at a time until it equals Magic.
func (fr *FrameReader) resync(window uint32) (uint32, error) {
	skipped := 0
	for window != Magic {
		b, err := fr.r.ReadByte()
		if err != nil {
			fr.reportResync(skipped)
			return window, err
		}
		window = window<<8 | uint32(b)
		skipped++
	}
	fr.reportResync(skipped)
	return window, nil
}

func (fr *FrameReader) reportResync(skipped int) {
	if skipped == 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "FrameReader.resync",
		"skipped":  skipped,
	}).Debug("Resynchronized on frame magic")
	fr.observer.ResyncSkipped(skipped)
}

func (fr *FrameReader) readUint32() (uint32, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(fr.header[:]), nil
}

// unexpected converts a clean EOF in the middle of a frame into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
