package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultHandshakeTimeout bounds the wait for the client greeting on
// connections that support read deadlines.
const DefaultHandshakeTimeout = 10 * time.Second

// sendQueue is an ordered FIFO. A positive limit bounds it with drop-oldest
// overflow; otherwise it grows without bound.
type sendQueue struct {
	mu     sync.Mutex
	items  []*Message
	limit  int
	closed bool
	notify chan struct{}
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push appends msg, reporting whether an older message was discarded.
func (q *sendQueue) push(msg *Message) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrSessionClosed
	}

	dropped := false
	if q.limit > 0 && len(q.items) >= q.limit {
		q.items[0] = nil
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, msg)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped, nil
}

// drain removes and returns all pending messages in order.
func (q *sendQueue) drain() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Session is one accepted client stream. A Session is used for exactly one
// Run call and is never reused.
type Session struct {
	id       string
	conn     io.ReadWriteCloser
	handler  Handler
	observer Observer
	queue    *sendQueue
	onReady  func(id string)

	handshakeTimeout time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithObserver attaches a protocol event observer.
func WithObserver(observer Observer) SessionOption {
	return func(s *Session) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithReadyHook registers f to run once the handshake has succeeded and
// before any frame is read.
func WithReadyHook(f func(id string)) SessionOption {
	return func(s *Session) {
		s.onReady = f
	}
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout. Zero disables
// the deadline.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.handshakeTimeout = d
	}
}

// WithSendQueueLimit bounds the outbound queue to limit messages. When it is
// full the oldest pending message is dropped. The queue is unbounded by
// default.
func WithSendQueueLimit(limit int) SessionOption {
	return func(s *Session) {
		s.queue = newSendQueue(limit)
	}
}

// NewSession wraps conn. The handler receives every decoded message.
func NewSession(conn io.ReadWriteCloser, handler Handler, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.New().String(),
		conn:     conn,
		handler:  handler,
		observer: nopObserver{},
		queue:    newSendQueue(0),

		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// PendingSends returns the number of queued outbound messages.
func (s *Session) PendingSends() int {
	return s.queue.len()
}

// Send queues msg for the writer goroutine. Messages are written in the order
// they were queued and never interleave. Sending after the session has ended
// returns ErrSessionClosed.
func (s *Session) Send(msg *Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	dropped, err := s.queue.push(msg)
	if err != nil {
		return err
	}
	if dropped {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Send",
			"session_id": s.id,
			"limit":      s.queue.limit,
		}).Warn("Send queue full, dropped oldest message")
		s.observer.ControlDropped()
	}
	return nil
}

// Run performs the server handshake and then exchanges frames until the
// stream ends or ctx is cancelled. It returns nil for a normal disconnect and
// an error wrapping ErrConnection otherwise. The connection is closed on return.
//
// Parameters:
//   - ctx: cancelling it closes the stream and unblocks pending reads
//
// Returns:
//   - error: nil on normal disconnect, ErrConnection-wrapped fault otherwise
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.conn.Close()
	defer s.queue.close()

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Run",
		"session_id": s.id,
	}).Info("Session started")

	if err := s.handshake(); err != nil {
		return s.finish(ctx, err)
	}
	if s.onReady != nil {
		s.onReady(s.id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.writeLoop(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.readLoop(gctx)
	})
	return s.finish(ctx, g.Wait())
}

// handshake runs ServerHandshake under a read deadline when the connection
// supports one.
func (s *Session) handshake() error {
	if d, ok := s.conn.(interface{ SetReadDeadline(time.Time) error }); ok && s.handshakeTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(s.handshakeTimeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}
	return ServerHandshake(s.conn)
}

// finish maps the end of Run to its result. A failed handshake is a fault
// even when the underlying error is an end-of-stream, unless ctx was
// cancelled.
func (s *Session) finish(ctx context.Context, err error) error {
	handshakeFault := errors.Is(err, ErrHandshakeFailed) && ctx.Err() == nil
	if !handshakeFault && IsNormalDisconnect(err) {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Run",
			"session_id": s.id,
		}).Info("Session ended")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Run",
		"session_id": s.id,
		"error":      err.Error(),
	}).Error("Session failed")
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func (s *Session) readLoop(ctx context.Context) error {
	fr := NewFrameReader(s.conn, s.observer)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			return err
		}

		msg, err := ParseMessage(payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Session.readLoop",
				"session_id": s.id,
				"size":       len(payload),
				"error":      err.Error(),
			}).Warn("Failed to decode frame")
			s.observer.DecodeFailed()
			continue
		}

		switch {
		case msg.Audio != nil:
			s.handler.HandleAudio(ctx, msg.Audio)
		case msg.Mute != nil:
			s.handler.HandleMute(ctx, msg.Mute.Muted)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.notify:
		}

		for _, msg := range s.queue.drain() {
			payload, err := msg.Serialize()
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "Session.writeLoop",
					"session_id": s.id,
					"error":      err.Error(),
				}).Error("Failed to encode message")
				continue
			}
			if err := WriteFrame(s.conn, payload); err != nil {
				return err
			}
		}
	}
}
