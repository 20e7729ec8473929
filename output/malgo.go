//go:build cgo

package output

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/opd-ai/micbridge/device"
	"github.com/sirupsen/logrus"
)

// MalgoBackend plays audio through miniaudio.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	ids map[string]malgo.DeviceID
}

// NewMalgoBackend initializes a miniaudio context with the platform's
// default backends.
func NewMalgoBackend() (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.WithFields(logrus.Fields{
			"function": "MalgoBackend",
			"message":  strings.TrimSpace(message),
		}).Debug("miniaudio")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &MalgoBackend{ctx: ctx, ids: make(map[string]malgo.DeviceID)}, nil
}

// Devices lists playback and capture devices. It satisfies device.Enumerator.
func (b *MalgoBackend) Devices(ctx context.Context) ([]device.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrClosed
	}

	var out []device.Info
	for _, kind := range []struct {
		typ malgo.DeviceType
		dir device.Direction
	}{
		{malgo.Playback, device.Playback},
		{malgo.Capture, device.Capture},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		infos, err := b.ctx.Devices(kind.typ)
		if err != nil {
			return nil, fmt.Errorf("enumerate devices: %w", err)
		}
		for _, info := range infos {
			id := hex.EncodeToString(info.ID[:])
			b.ids[id] = info.ID
			out = append(out, device.Info{
				ID:        id,
				Name:      info.Name(),
				Direction: kind.dir,
				IsDefault: info.IsDefault != 0,
			})
		}
	}
	return out, nil
}

// Open creates a signed 16-bit playback device that pulls from source.
func (b *MalgoBackend) Open(cfg StreamConfig, source Source) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrClosed
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	s := &malgoStream{sampleRate: cfg.SampleRate, channels: cfg.Channels}
	if cfg.DeviceID != "" {
		id, ok := b.ids[cfg.DeviceID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown device id %s", ErrNoDevice, cfg.DeviceID)
		}
		s.id = id
		deviceConfig.Playback.DeviceID = s.id.Pointer()
	}

	dev, err := malgo.InitDevice(b.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			source(output)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open playback device: %w", err)
	}
	s.device = dev
	return s, nil
}

// Close releases the miniaudio context.
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// malgoStream plays at the requested format; miniaudio converts to the
// device's native format.
type malgoStream struct {
	id         malgo.DeviceID
	device     *malgo.Device
	sampleRate int
	channels   int
	once       sync.Once
}

func (s *malgoStream) Start() error { return s.device.Start() }

func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		if s.device.IsStarted() {
			err = s.device.Stop()
		}
		s.device.Uninit()
	})
	return err
}

func (s *malgoStream) SampleRate() int { return s.sampleRate }
func (s *malgoStream) Channels() int   { return s.channels }
