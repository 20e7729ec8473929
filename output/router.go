package output

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/micbridge/audio"
	"github.com/opd-ai/micbridge/device"
	"github.com/opd-ai/micbridge/limits"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/sirupsen/logrus"
)

// maxChannels bounds the channel count accepted by Init.
const maxChannels = 8

// DefaultDrainTimeout bounds how long Release waits for queued audio.
const DefaultDrainTimeout = 500 * time.Millisecond

// Router owns the playback stream for the current audio format.
//
// Write is called from a single goroutine; the other methods are safe to
// call concurrently with it.
type Router struct {
	backend  Backend
	strategy device.Strategy

	mu         sync.Mutex
	stream     Stream
	buffer     *ring
	resampler  *audio.Resampler
	sampleRate int
	channels   int
	deviceRate int
	virtual    bool
	prepared   bool
	deviceName string

	current      atomic.Pointer[ring]
	monitoring   atomic.Bool
	drainTimeout time.Duration
}

// NewRouter creates a router that opens devices from backend, guided by
// the platform strategy.
func NewRouter(backend Backend, strategy device.Strategy) *Router {
	return &Router{
		backend:      backend,
		strategy:     strategy,
		drainTimeout: DefaultDrainTimeout,
	}
}

// fill is the device callback.
func (r *Router) fill(p []byte) {
	if b := r.current.Load(); b != nil {
		b.Read(p)
		return
	}
	clear(p)
}

// Init opens a playback stream for the format. Calling it again with the
// same format is a no-op; a different format reopens the stream.
func (r *Router) Init(ctx context.Context, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 || channels > maxChannels {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidFormat, sampleRate, channels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		if r.sampleRate == sampleRate && r.channels == channels {
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"function":    "Router.Init",
			"old_rate":    r.sampleRate,
			"old_channel": r.channels,
			"new_rate":    sampleRate,
			"new_channel": channels,
		}).Info("Output format changed, reopening stream")
		if err := r.closeStreamLocked(false); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.Init",
				"error":    err.Error(),
			}).Warn("Closing previous stream failed")
		}
	}

	created, err := r.strategy.Prepare(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Router.Init",
			"platform": r.strategy.Platform().String(),
			"error":    err.Error(),
		}).Warn("Virtual device not ready, falling back to other outputs")
	}
	if created {
		r.prepared = true
	}

	for _, c := range r.candidates(ctx) {
		stream, err := r.backend.Open(StreamConfig{
			DeviceID:   c.id,
			SampleRate: sampleRate,
			Channels:   channels,
		}, r.fill)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.Init",
				"device":   c.name,
				"error":    err.Error(),
			}).Debug("Opening playback device failed")
			continue
		}
		if err := r.startLocked(stream, c, sampleRate, channels); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.Init",
				"device":   c.name,
				"error":    err.Error(),
			}).Warn("Starting playback device failed")
			continue
		}
		return nil
	}
	return ErrNoDevice
}

type candidate struct {
	id      string
	name    string
	virtual bool
}

// candidates lists the strategy's targets that match an enumerated
// playback device, in target order, followed by the system default.
func (r *Router) candidates(ctx context.Context) []candidate {
	var out []candidate
	devices, err := r.backend.Devices(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Router.candidates",
			"error":    err.Error(),
		}).Warn("Device enumeration failed, using the system default")
	}
	seen := make(map[string]bool)
	for _, target := range r.strategy.OutputTargets() {
		want := strings.ToLower(target.Name)
		for _, d := range devices {
			if d.Direction != device.Playback || seen[d.ID] {
				continue
			}
			if strings.Contains(strings.ToLower(d.Name), want) {
				seen[d.ID] = true
				out = append(out, candidate{id: d.ID, name: d.Name, virtual: target.Virtual})
			}
		}
	}
	return append(out, candidate{name: "system default"})
}

func (r *Router) startLocked(stream Stream, c candidate, sampleRate, channels int) error {
	deviceRate, deviceChannels := stream.SampleRate(), stream.Channels()
	if deviceChannels != channels {
		stream.Close()
		return fmt.Errorf("%w: device has %d channels, stream has %d", ErrInvalidFormat, deviceChannels, channels)
	}

	var resampler *audio.Resampler
	if deviceRate != sampleRate {
		var err error
		resampler, err = audio.NewResampler(audio.ResamplerConfig{
			InputRate:  uint32(sampleRate),
			OutputRate: uint32(deviceRate),
			Channels:   channels,
		})
		if err != nil {
			stream.Close()
			return err
		}
	}

	size := limits.OutputBufferSize(deviceRate, channels, 2)
	buffer := newRing(size, channels*2)
	r.current.Store(buffer)
	if err := stream.Start(); err != nil {
		r.current.Store(nil)
		stream.Close()
		return err
	}

	r.stream = stream
	r.buffer = buffer
	r.resampler = resampler
	r.sampleRate = sampleRate
	r.channels = channels
	r.deviceRate = deviceRate
	r.virtual = c.virtual
	r.deviceName = c.name

	logrus.WithFields(logrus.Fields{
		"function":    "Router.Init",
		"device":      c.name,
		"virtual":     c.virtual,
		"sample_rate": sampleRate,
		"device_rate": deviceRate,
		"channels":    channels,
		"buffer":      size,
	}).Info("Audio output started")
	return nil
}

// Write queues one buffer of PCM16 audio, blocking while the output buffer
// is full. The samples are replaced with silence when nothing would route
// them to the virtual microphone and monitoring is off.
func (r *Router) Write(p []byte) error {
	r.mu.Lock()
	buffer, resampler, channels, virtual := r.buffer, r.resampler, r.channels, r.virtual
	r.mu.Unlock()

	if buffer == nil {
		return ErrNotInitialized
	}
	if len(p)%(channels*2) != 0 {
		return fmt.Errorf("%w: %d bytes for %d channels", ErrUnaligned, len(p), channels)
	}

	mute := !virtual && !r.monitoring.Load() && !r.strategy.SharesDefaultEndpoint()
	if resampler != nil {
		out, err := resampler.Resample(pcm.DecodeInt16(p))
		if err != nil {
			return err
		}
		p = pcm.EncodeInt16(out)
	}
	return buffer.Write(p, mute)
}

// QueuedDurationMs returns how much audio is waiting to be played.
func (r *Router) QueuedDurationMs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buffer == nil {
		return 0
	}
	bytesPerSecond := int64(r.deviceRate) * int64(r.channels) * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return int64(r.buffer.Len()) * 1000 / bytesPerSecond
}

// Flush discards queued audio.
func (r *Router) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buffer != nil {
		r.buffer.Reset()
	}
	if r.resampler != nil {
		r.resampler.Reset()
	}
}

// SetMonitoring lets audio through to a non-virtual device.
func (r *Router) SetMonitoring(enabled bool) {
	r.monitoring.Store(enabled)
}

// Monitoring reports whether monitoring is on.
func (r *Router) Monitoring() bool {
	return r.monitoring.Load()
}

// UsingVirtualDevice reports whether the open stream plays into a virtual
// or bridge device.
func (r *Router) UsingVirtualDevice() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.virtual
}

// DeviceName returns the name of the open device, or "" when closed.
func (r *Router) DeviceName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceName
}

// Release plays out queued audio, closes the stream and removes a virtual
// device graph the router's Prepare created. A graph that already existed
// is left alone. It is safe to call repeatedly.
func (r *Router) Release(ctx context.Context) error {
	r.mu.Lock()
	err := r.closeStreamLocked(true)
	cleanup := r.prepared
	r.prepared = false
	r.mu.Unlock()

	if cleanup {
		logrus.WithFields(logrus.Fields{
			"function": "Router.Release",
		}).Info("Cleaning up the virtual audio device")
		err = errors.Join(err, r.strategy.Cleanup(ctx))
	}
	return err
}

func (r *Router) closeStreamLocked(drain bool) error {
	if r.stream == nil {
		return nil
	}
	if drain && !r.buffer.Drain(r.drainTimeout) {
		logrus.WithFields(logrus.Fields{
			"function": "Router.Release",
			"queued":   r.buffer.Len(),
		}).Debug("Drain timed out, dropping queued audio")
	}
	r.buffer.Close()
	r.current.Store(nil)
	err := r.stream.Close()

	r.stream = nil
	r.buffer = nil
	r.resampler = nil
	r.sampleRate, r.channels, r.deviceRate = 0, 0, 0
	r.virtual = false
	r.deviceName = ""
	return err
}
