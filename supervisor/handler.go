package supervisor

import (
	"context"
	"errors"

	"github.com/opd-ai/micbridge/output"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/opd-ai/micbridge/transport"
	"github.com/sirupsen/logrus"
)

// handler feeds one session's messages into the supervisor.
type handler struct {
	s *Supervisor
}

// HandleAudio plays one frame: open the output for its format, process it
// with the current backlog and publish the level of what was written.
func (h handler) HandleAudio(ctx context.Context, packet *transport.AudioPacket) {
	s := h.s
	frame := packet.Frame

	if err := s.output.Init(ctx, int(frame.SampleRate), int(frame.Channels)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "handler.HandleAudio",
			"sample_rate": frame.SampleRate,
			"channels":    frame.Channels,
			"error":       err.Error(),
		}).Error("Failed to open audio output")
		return
	}

	processed, err := s.pipeline.Process(frame, s.output.QueuedDurationMs())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handler.HandleAudio",
			"sequence": packet.Sequence,
			"error":    err.Error(),
		}).Warn("Failed to process frame")
		return
	}
	if processed == nil {
		return
	}

	if err := s.output.Write(processed.Buffer); err != nil {
		if !errors.Is(err, output.ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "handler.HandleAudio",
				"error":    err.Error(),
			}).Warn("Failed to write frame")
		}
		return
	}

	level := pcm.RMSBytes(processed.Buffer)
	s.level.Set(level)
	s.metrics.RecordLevel(ctx, level)
}

// HandleMute mirrors the sender's mute switch.
func (h handler) HandleMute(_ context.Context, muted bool) {
	logrus.WithFields(logrus.Fields{
		"function": "handler.HandleMute",
		"muted":    muted,
	}).Info("Sender changed mute state")
	h.s.muted.Set(muted)
}
