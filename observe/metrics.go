// Package observe records micbridge metrics through the OpenTelemetry
// Metrics API.
//
// A [Metrics] value satisfies both transport.Observer and audio.Observer, so
// one instance can be handed to every session and pipeline. [InitProvider]
// installs an SDK MeterProvider backed by a Prometheus exporter whose
// registry is served on /metrics. Tests should use [NewMetrics] with a
// provider built on an sdkmetric.ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all micbridge metrics.
const meterName = "github.com/opd-ai/micbridge"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// FramesReceived counts frames read off the wire.
	FramesReceived metric.Int64Counter

	// BytesReceived counts frame payload bytes.
	BytesReceived metric.Int64Counter

	// FramesDropped counts frames the pipeline dropped to shed backlog.
	FramesDropped metric.Int64Counter

	// DecodeErrors counts payloads that failed to decode.
	DecodeErrors metric.Int64Counter

	// ResyncBytes counts bytes discarded while searching for the frame magic.
	ResyncBytes metric.Int64Counter

	// FramesOversized counts frames skipped for exceeding the payload limit.
	FramesOversized metric.Int64Counter

	// ControlMessagesDropped counts outgoing control messages evicted from a full
	// send queue.
	ControlMessagesDropped metric.Int64Counter

	// Sessions counts finished sessions. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", ...)
	Sessions metric.Int64Counter

	// SessionsActive tracks the number of live sessions.
	SessionsActive metric.Int64UpDownCounter

	// PipelineDuration tracks per-frame processing time.
	PipelineDuration metric.Float64Histogram

	// AudioLevel is the RMS level (0..1) of the last played frame.
	AudioLevel metric.Float64Gauge
}

// pipelineBuckets are histogram boundaries in seconds. A 10 ms frame must be
// processed well inside its own duration.
var pipelineBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Wire counters.
	if met.FramesReceived, err = m.Int64Counter("micbridge.frames.received",
		metric.WithDescription("Frames read from the sender."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("micbridge.bytes.received",
		metric.WithDescription("Frame payload bytes read from the sender."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("micbridge.decode.errors",
		metric.WithDescription("Payloads that were not a valid message."),
	); err != nil {
		return nil, err
	}
	if met.ResyncBytes, err = m.Int64Counter("micbridge.resync.bytes",
		metric.WithDescription("Bytes discarded while resynchronising on the frame magic."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesOversized, err = m.Int64Counter("micbridge.frames.oversized",
		metric.WithDescription("Frames skipped for exceeding the payload limit."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessagesDropped, err = m.Int64Counter("micbridge.control.dropped",
		metric.WithDescription("Outgoing control messages evicted from a full send queue."),
	); err != nil {
		return nil, err
	}

	// Pipeline.
	if met.FramesDropped, err = m.Int64Counter("micbridge.frames.dropped",
		metric.WithDescription("Frames dropped by the pipeline to shed playback backlog."),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("micbridge.pipeline.duration",
		metric.WithDescription("Time spent processing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pipelineBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioLevel, err = m.Float64Gauge("micbridge.audio.level",
		metric.WithDescription("RMS level of the last played frame, 0 to 1."),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.Sessions, err = m.Int64Counter("micbridge.sessions",
		metric.WithDescription("Finished sessions by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionsActive, err = m.Int64UpDownCounter("micbridge.sessions.active",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level Metrics built on the global
// provider. Instruments created before InitProvider are forwarded once a
// provider is installed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// FrameReceived implements transport.Observer.
func (m *Metrics) FrameReceived(payloadBytes int) {
	ctx := context.Background()
	m.FramesReceived.Add(ctx, 1)
	m.BytesReceived.Add(ctx, int64(payloadBytes))
}

// DecodeFailed implements transport.Observer.
func (m *Metrics) DecodeFailed() {
	m.DecodeErrors.Add(context.Background(), 1)
}

// ResyncSkipped implements transport.Observer.
func (m *Metrics) ResyncSkipped(bytes int) {
	m.ResyncBytes.Add(context.Background(), int64(bytes))
}

// FrameOversized implements transport.Observer.
func (m *Metrics) FrameOversized(uint32) {
	m.FramesOversized.Add(context.Background(), 1)
}

// ControlDropped implements transport.Observer.
func (m *Metrics) ControlDropped() {
	m.ControlMessagesDropped.Add(context.Background(), 1)
}

// FrameProcessed implements audio.Observer.
func (m *Metrics) FrameProcessed(d time.Duration) {
	m.PipelineDuration.Record(context.Background(), d.Seconds())
}

// FrameDropped implements audio.Observer.
func (m *Metrics) FrameDropped() {
	m.FramesDropped.Add(context.Background(), 1)
}

// SessionStarted records a new live session.
func (m *Metrics) SessionStarted(ctx context.Context, mode string) {
	m.SessionsActive.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// SessionEnded records the end of a session. outcome is "normal" or "error".
func (m *Metrics) SessionEnded(ctx context.Context, mode, outcome string) {
	m.SessionsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("mode", mode)))
	m.Sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// RecordLevel records the output RMS level.
func (m *Metrics) RecordLevel(ctx context.Context, level float64) {
	m.AudioLevel.Record(ctx, level)
}
