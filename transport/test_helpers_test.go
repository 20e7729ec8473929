package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opd-ai/micbridge/pcm"
	"github.com/stretchr/testify/require"
)

// recordingHandler collects messages delivered by a session.
type recordingHandler struct {
	mu    sync.Mutex
	audio []*AudioPacket
	mutes []bool
}

func (h *recordingHandler) HandleAudio(_ context.Context, packet *AudioPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = append(h.audio, packet)
}

func (h *recordingHandler) HandleMute(_ context.Context, muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mutes = append(h.mutes, muted)
}

func (h *recordingHandler) audioCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.audio)
}

// countingObserver tallies protocol events.
type countingObserver struct {
	frames    atomic.Int64
	decode    atomic.Int64
	resync    atomic.Int64
	oversized atomic.Int64
	dropped   atomic.Int64
}

func (o *countingObserver) FrameReceived(int)     { o.frames.Add(1) }
func (o *countingObserver) DecodeFailed()         { o.decode.Add(1) }
func (o *countingObserver) ResyncSkipped(n int)   { o.resync.Add(int64(n)) }
func (o *countingObserver) FrameOversized(uint32) { o.oversized.Add(1) }
func (o *countingObserver) ControlDropped()       { o.dropped.Add(1) }

// testFrame returns a small valid stereo PCM16 frame.
func testFrame() pcm.Frame {
	return pcm.Frame{
		Buffer:     pcm.EncodeInt16([]int16{1, -1, 1000, -1000}),
		SampleRate: 48000,
		Channels:   2,
		Format:     pcm.FormatPCM16,
	}
}

// framed serializes msg and wraps it in a frame.
func framed(t *testing.T, msg *Message) []byte {
	t.Helper()
	payload, err := msg.Serialize()
	require.NoError(t, err)
	return AppendFrame(nil, payload)
}
