package output

import (
	"sync"
	"time"
)

// ring is a bounded byte queue. Writers block while it is full; the reader
// never blocks and pads underruns with silence. Transfers are rounded to
// align so interleaved sample frames are never split.
type ring struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	start  int
	n      int
	align  int
	closed bool
}

func newRing(size, align int) *ring {
	if align <= 0 {
		align = 1
	}
	size -= size % align
	if size < align {
		size = align
	}
	b := &ring{buf: make([]byte, size), align: align}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write queues p, or len(p) zero bytes when silent is set, blocking until
// everything fits or the ring is closed.
func (b *ring) Write(p []byte, silent bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(p) > 0 {
		for !b.closed && len(b.buf)-b.n < b.align {
			b.cond.Wait()
		}
		if b.closed {
			return ErrClosed
		}
		free := len(b.buf) - b.n
		chunk := min(free, len(p))
		chunk -= chunk % b.align
		if chunk == 0 {
			chunk = len(p)
		}
		end := (b.start + b.n) % len(b.buf)
		for i := 0; i < chunk; {
			m := min(chunk-i, len(b.buf)-end)
			if silent {
				clear(b.buf[end : end+m])
			} else {
				copy(b.buf[end:end+m], p[i:i+m])
			}
			i += m
			end = (end + m) % len(b.buf)
		}
		b.n += chunk
		p = p[chunk:]
		b.cond.Broadcast()
	}
	return nil
}

// Read fills p from the queue and pads the remainder with zeros. It
// returns the number of queued bytes consumed.
func (b *ring) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	take := min(b.n, len(p))
	take -= take % b.align
	for i := 0; i < take; {
		m := min(take-i, len(b.buf)-b.start)
		copy(p[i:i+m], b.buf[b.start:b.start+m])
		i += m
		b.start = (b.start + m) % len(b.buf)
	}
	b.n -= take
	clear(p[take:])
	if take > 0 {
		b.cond.Broadcast()
	}
	return take
}

// Len returns the number of queued bytes.
func (b *ring) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the ring size in bytes.
func (b *ring) Cap() int {
	return len(b.buf)
}

// Reset discards queued audio.
func (b *ring) Reset() {
	b.mu.Lock()
	b.start, b.n = 0, 0
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Drain waits until the queue is empty or timeout elapses.
func (b *ring) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.Len() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close wakes blocked writers; later writes fail with ErrClosed.
func (b *ring) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
