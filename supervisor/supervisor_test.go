package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/micbridge/audio"
	"github.com/opd-ai/micbridge/output"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/opd-ai/micbridge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func serverRequest() StartRequest {
	return StartRequest{
		Address:    "127.0.0.1",
		Port:       6000,
		Mode:       transport.ModeWiFi,
		SampleRate: 48000,
		Channels:   1,
		Format:     pcm.FormatPCM16,
	}
}

func waitState(t *testing.T, s *Supervisor, want StreamState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Get() == want }, waitFor, tick,
		"state stayed %s, want %s", s.State().Get(), want)
}

func TestSupervisorStreamsFrames(t *testing.T) {
	h := newHarness(t)
	h.output.queuedMs = 40
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))
	assert.Equal(t, StateConnecting, h.sup.State().Get())
	assert.True(t, h.sup.Running())

	client := h.listener.dial(t)
	require.NoError(t, transport.ClientHandshake(client))
	waitState(t, h.sup, StateStreaming)

	_, resets, _ := h.pipeline.counts()
	assert.Equal(t, 1, resets)

	sendFrame(t, client, transport.NewAudioMessage(toneFrame(), 1))
	require.Eventually(t, func() bool { return h.sup.Level().Get() > 0 }, waitFor, tick)

	assert.Equal(t, 1, h.output.writeCount())
	assert.InDelta(t, 0.5, h.sup.Level().Get(), 0.01)
	h.output.mu.Lock()
	assert.Equal(t, [][2]int{{48000, 1}}, h.output.inits)
	h.output.mu.Unlock()
	h.pipeline.mu.Lock()
	assert.Equal(t, []int64{40}, h.pipeline.queued)
	h.pipeline.mu.Unlock()

	require.NoError(t, client.Close())
	waitState(t, h.sup, StateConnecting)
	assert.Zero(t, h.sup.Level().Get())
	assert.True(t, h.sup.Running())
}

func TestSupervisorAcceptsNextClientAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))

	for i := 0; i < 2; i++ {
		client := h.listener.dial(t)
		require.NoError(t, transport.ClientHandshake(client))
		waitState(t, h.sup, StateStreaming)
		require.NoError(t, client.Close())
		waitState(t, h.sup, StateConnecting)
	}

	_, resets, _ := h.pipeline.counts()
	assert.Equal(t, 2, resets)
	assert.Equal(t, 1, h.listenCount())
}

func TestSupervisorMute(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))

	client := h.listener.dial(t)
	require.NoError(t, transport.ClientHandshake(client))
	waitState(t, h.sup, StateStreaming)

	sendFrame(t, client, transport.NewMuteMessage(true))
	require.Eventually(t, func() bool { return h.sup.Muted().Get() }, waitFor, tick)

	require.NoError(t, h.sup.SetMute(false))
	assert.False(t, h.sup.Muted().Get())

	fr := transport.NewFrameReader(client, nil)
	payload, err := fr.ReadFrame()
	require.NoError(t, err)
	msg, err := transport.ParseMessage(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Mute)
	assert.False(t, msg.Mute.Muted)
}

func TestSupervisorSetMuteWithoutSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.SetMute(true))
	assert.True(t, h.sup.Muted().Get())
}

func TestSupervisorStartIsFirstWriterWins(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))

	assert.Equal(t, 1, h.listenCount())
	assert.Equal(t, StateConnecting, h.sup.State().Get())
}

func TestSupervisorConcurrentStarts(t *testing.T) {
	h := newHarness(t)

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { errs <- h.sup.Start(context.Background(), serverRequest()) }()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 1, h.listenCount())
}

func TestSupervisorClientRoleIsNoop(t *testing.T) {
	h := newHarness(t)
	req := serverRequest()
	req.Role = transport.RoleClient

	require.NoError(t, h.sup.Start(context.Background(), req))
	assert.Zero(t, h.listenCount())
	assert.Equal(t, StateIdle, h.sup.State().Get())
	assert.False(t, h.sup.Running())
}

func TestSupervisorUSBTunnel(t *testing.T) {
	var order []string
	h := newHarness(t)
	h.tunnel.order = &order
	h.sup.listen = func(StartRequest) (transport.Listener, error) {
		order = append(order, "listen")
		return h.listener, nil
	}

	req := serverRequest()
	req.Mode = transport.ModeUSB
	req.Port = 6123
	require.NoError(t, h.sup.Start(context.Background(), req))

	assert.Equal(t, []string{"tunnel", "listen"}, order)
	assert.Equal(t, []int{6123}, h.tunnel.ports)
	assert.Equal(t, StateConnecting, h.sup.State().Get())
}

func TestSupervisorUSBTunnelFailure(t *testing.T) {
	h := newHarness(t)
	h.tunnel.err = transport.ErrADBNotFound

	req := serverRequest()
	req.Mode = transport.ModeUSB
	err := h.sup.Start(context.Background(), req)

	require.ErrorIs(t, err, ErrTunnel)
	assert.Zero(t, h.listenCount())
	assert.Equal(t, StateError, h.sup.State().Get())
	assert.Contains(t, h.sup.LastError().Get(), "adb reverse tcp:6000 tcp:6000")
	assert.False(t, h.sup.Running())

	require.NoError(t, h.sup.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.sup.State().Get())
	assert.Empty(t, h.sup.LastError().Get())
}

func TestSupervisorListenFailure(t *testing.T) {
	h := newHarness(t)
	h.sup.listen = func(StartRequest) (transport.Listener, error) {
		return nil, errors.New("address in use")
	}

	err := h.sup.Start(context.Background(), serverRequest())
	require.ErrorIs(t, err, ErrListen)
	assert.Equal(t, StateError, h.sup.State().Get())
	assert.Contains(t, h.sup.LastError().Get(), "address in use")

	h.sup.listen = func(StartRequest) (transport.Listener, error) { return h.listener, nil }
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))
	assert.Equal(t, StateConnecting, h.sup.State().Get())
	assert.Empty(t, h.sup.LastError().Get())
}

func TestSupervisorSessionErrorEndsJob(t *testing.T) {
	tests := []struct {
		name     string
		greeting string
		hangUp   bool
	}{
		{"wrong greeting", "HelloThere!!", false},
		{"truncated greeting", "MicYou", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.sup.Start(context.Background(), serverRequest()))

			client := h.listener.dial(t)
			_, err := client.Write([]byte(tt.greeting))
			require.NoError(t, err)
			if tt.hangUp {
				require.NoError(t, client.Close())
			}

			waitState(t, h.sup, StateError)
			assert.Contains(t, h.sup.LastError().Get(), transport.ErrHandshakeFailed.Error())
			require.Eventually(t, func() bool { return !h.sup.Running() }, waitFor, tick)
		})
	}
}

func TestSupervisorStopReleases(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))

	client := h.listener.dial(t)
	require.NoError(t, transport.ClientHandshake(client))
	waitState(t, h.sup, StateStreaming)

	require.NoError(t, h.sup.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.sup.State().Get())
	assert.False(t, h.sup.Running())
	assert.Equal(t, 1, h.output.released())
	_, _, releases := h.pipeline.counts()
	assert.Equal(t, 1, releases)
}

func TestSupervisorStopAlwaysReleases(t *testing.T) {
	h := newHarness(t)
	h.output.releaseErr = errors.New("device gone")

	err := h.sup.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device gone")
	assert.Equal(t, StateIdle, h.sup.State().Get())
	assert.Equal(t, 1, h.output.released())
	_, _, releases := h.pipeline.counts()
	assert.Equal(t, 1, releases)
}

func TestSupervisorRestartAfterStop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))
	require.NoError(t, h.sup.Stop(context.Background()))

	h.listener = newPipeListener()
	require.NoError(t, h.sup.Start(context.Background(), serverRequest()))
	assert.Equal(t, 2, h.listenCount())
	assert.Equal(t, StateConnecting, h.sup.State().Get())
}

func TestSupervisorStartAppliesSettings(t *testing.T) {
	h := newHarness(t)
	cfg := audio.DefaultConfig()
	cfg.AGC = true

	req := serverRequest()
	req.Config = &cfg
	req.Monitoring = true
	require.NoError(t, h.sup.Start(context.Background(), req))

	h.pipeline.mu.Lock()
	assert.Equal(t, []audio.Config{cfg}, h.pipeline.configs)
	h.pipeline.mu.Unlock()
	h.output.mu.Lock()
	assert.True(t, h.output.monitoring)
	h.output.mu.Unlock()
}

func TestSupervisorFirewall(t *testing.T) {
	tests := []struct {
		name      string
		mode      transport.Mode
		err       error
		wantCalls int
	}{
		{"wifi", transport.ModeWiFi, nil, 1},
		{"failure is soft", transport.ModeWiFi, errors.New("access denied"), 1},
		{"bluetooth skips", transport.ModeBluetooth, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ports []int
			h := newHarness(t, WithFirewall(func(_ context.Context, port int) error {
				ports = append(ports, port)
				return tt.err
			}))
			req := serverRequest()
			req.Mode = tt.mode
			require.NoError(t, h.sup.Start(context.Background(), req))
			assert.Len(t, ports, tt.wantCalls)
			assert.Equal(t, StateConnecting, h.sup.State().Get())
		})
	}
}

func TestSupervisorUpdateConfigAndMonitoring(t *testing.T) {
	h := newHarness(t)
	cfg := audio.DefaultConfig()
	cfg.Amplification = 2

	require.NoError(t, h.sup.UpdateConfig(cfg))
	h.sup.SetMonitoring(true)

	h.pipeline.mu.Lock()
	assert.Equal(t, []audio.Config{cfg}, h.pipeline.configs)
	h.pipeline.mu.Unlock()
	h.output.mu.Lock()
	assert.True(t, h.output.monitoring)
	h.output.mu.Unlock()

	h.pipeline.configErr = audio.ErrInvalidConfig
	assert.ErrorIs(t, h.sup.UpdateConfig(cfg), audio.ErrInvalidConfig)
}

func TestHandlerAudioPaths(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(*harness)
		wantProcessed int
		wantWrites    int
		wantLevel     bool
	}{
		{"plays frame", func(*harness) {}, 1, 1, true},
		{"output init fails", func(h *harness) { h.output.initErr = output.ErrNoDevice }, 0, 0, false},
		{"pipeline error", func(h *harness) { h.pipeline.err = errors.New("denoiser") }, 1, 0, false},
		{"pipeline drops frame", func(h *harness) { h.pipeline.drop = true }, 1, 0, false},
		{"output closed", func(h *harness) { h.output.writeErr = output.ErrClosed }, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			handler{h.sup}.HandleAudio(context.Background(), &transport.AudioPacket{Frame: toneFrame(), Sequence: 7})

			processed, _, _ := h.pipeline.counts()
			assert.Equal(t, tt.wantProcessed, processed)
			assert.Equal(t, tt.wantWrites, h.output.writeCount())
			assert.Equal(t, tt.wantLevel, h.sup.Level().Get() > 0)
		})
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	h.sup.muted.Set(true)
	h.sup.level.Set(0.25)

	assert.Equal(t, Status{State: StateIdle, Level: 0.25, Muted: true}, h.sup.Status())
}
