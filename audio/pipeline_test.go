package audio

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/micbridge/pcm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type recordingObserver struct {
	processed atomic.Int64
	dropped   atomic.Int64
}

func (r *recordingObserver) FrameProcessed(time.Duration) { r.processed.Add(1) }
func (r *recordingObserver) FrameDropped()                { r.dropped.Add(1) }

func monoFrame(samples []int16) pcm.Frame {
	return pcm.Frame{
		Buffer:     pcm.EncodeInt16(samples),
		SampleRate: 48000,
		Channels:   1,
		Format:     pcm.FormatPCM16,
	}
}

func newTestPipeline(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release() })
	return p
}

func TestPipeline_AllStagesOffIsBitExact(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig())

	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOfN(rapid.Int16(), 1, 4096).Draw(t, "samples")
		in := monoFrame(samples)

		out, err := p.Process(in, 0)
		if err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		if out == nil {
			t.Fatal("Process() dropped a frame with every stage off")
		}
		if string(out.Buffer) != string(in.Buffer) {
			t.Fatal("output differs from input")
		}
	})
}

func TestPipeline_ConvertsToPCM16(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig())

	out, err := p.Process(pcm.Frame{
		Buffer:     []byte{128, 255, 0},
		SampleRate: 16000,
		Channels:   1,
		Format:     pcm.FormatPCM8,
	}, 0)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, pcm.FormatPCM16, out.Format)
	assert.Equal(t, uint32(16000), out.SampleRate)
	assert.Equal(t, []int16{0, 127 << 8, -128 << 8}, pcm.DecodeInt16(out.Buffer))
}

func TestPipeline_RejectsInvalidFrame(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig())

	_, err := p.Process(pcm.Frame{Buffer: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1, Format: pcm.FormatPCM16}, 0)
	assert.ErrorIs(t, err, pcm.ErrInvalidFrame)

	_, err = p.Process(pcm.Frame{Buffer: []byte{1, 2}, SampleRate: 48000, Channels: 1, Format: pcm.Format(9)}, 0)
	assert.ErrorIs(t, err, pcm.ErrUnsupportedFormat)
}

func TestPipeline_Amplification(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Amplification = 2
	p := newTestPipeline(t, cfg)

	out, err := p.Process(monoFrame([]int16{1000, -1000, 20000, -20000}), 0)
	require.NoError(t, err)
	assert.Equal(t, []int16{2000, -2000, 32767, -32768}, pcm.DecodeInt16(out.Buffer))
}

func TestPipeline_NoiseCarryFlushedWhenDisabled(t *testing.T) {
	factory := &denoiserFactory{}
	cfg := DefaultConfig()
	cfg.NoiseSuppression = true
	cfg.NoiseAlgorithm = NoiseClassical
	p := newTestPipeline(t, cfg, WithDenoiserFactory(NoiseClassical, factory.New))

	out, err := p.Process(monoFrame(constantSamples(700, 1000)), 0)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, FrameSize, out.SamplesPerChannel())

	small, err := p.Process(monoFrame(constantSamples(100, 1000)), 0)
	require.NoError(t, err)
	assert.Nil(t, small, "less than one sub-frame yields nothing")

	cfg.NoiseSuppression = false
	require.NoError(t, p.UpdateConfig(cfg))

	out, err = p.Process(monoFrame(constantSamples(50, 7)), 0)
	require.NoError(t, err)
	require.NotNil(t, out)
	samples := pcm.DecodeInt16(out.Buffer)
	require.Len(t, samples, 370)
	assert.Equal(t, int16(1000), samples[0], "carried samples are emitted unmodified")
	assert.Equal(t, int16(1000), samples[319])
	assert.Equal(t, int16(7), samples[320])
}

func TestPipeline_FormatChangeDiscardsCarry(t *testing.T) {
	factory := &denoiserFactory{}
	cfg := DefaultConfig()
	cfg.NoiseSuppression = true
	p := newTestPipeline(t, cfg, WithDenoiserFactory(NoiseRecurrent, factory.New))

	_, err := p.Process(monoFrame(constantSamples(700, 1000)), 0)
	require.NoError(t, err)

	stereo := pcm.Frame{
		Buffer:     pcm.EncodeInt16(constantSamples(2*FrameSize, 2000)),
		SampleRate: 48000,
		Channels:   2,
		Format:     pcm.FormatPCM16,
	}
	out, err := p.Process(stereo, 0)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, FrameSize, out.SamplesPerChannel())
	assert.Equal(t, int16(1000), pcm.DecodeInt16(out.Buffer)[0])
}

func TestPipeline_BacklogDropsGatedFrames(t *testing.T) {
	observer := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.VAD = true
	p := newTestPipeline(t, cfg, WithObserver(observer))

	silence := monoFrame(make([]int16, 960))

	out, err := p.Process(silence, 0)
	require.NoError(t, err)
	require.NotNil(t, out, "gated frames are kept while the output keeps up")

	out, err = p.Process(silence, 500)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, int64(1), observer.dropped.Load())
	assert.Equal(t, int64(1), observer.processed.Load())

	out, err = p.Process(monoFrame(generateSineWave(960, 10000)), 500)
	require.NoError(t, err)
	assert.NotNil(t, out, "voiced frames are never dropped")
}

func TestPipeline_SpeechProbability(t *testing.T) {
	factory := &denoiserFactory{prob: 0.75}
	cfg := DefaultConfig()
	cfg.NoiseSuppression = true
	p := newTestPipeline(t, cfg, WithDenoiserFactory(NoiseRecurrent, factory.New))

	_, ok := p.SpeechProbability()
	assert.False(t, ok)

	_, err := p.Process(monoFrame(make([]int16, FrameSize)), 0)
	require.NoError(t, err)
	prob, ok := p.SpeechProbability()
	assert.True(t, ok)
	assert.InDelta(t, 0.75, prob, 1e-6)

	cfg.NoiseSuppression = false
	require.NoError(t, p.UpdateConfig(cfg))
	_, ok = p.SpeechProbability()
	assert.False(t, ok)
}

func TestPipeline_ResetKeepsHandlesReleaseDestroys(t *testing.T) {
	factory := &denoiserFactory{}
	cfg := DefaultConfig()
	cfg.NoiseSuppression = true
	p := newTestPipeline(t, cfg, WithDenoiserFactory(NoiseRecurrent, factory.New))

	_, err := p.Process(monoFrame(make([]int16, FrameSize)), 0)
	require.NoError(t, err)
	require.Len(t, factory.created, 1)

	p.Reset()
	_, err = p.Process(monoFrame(make([]int16, FrameSize)), 0)
	require.NoError(t, err)
	assert.Len(t, factory.created, 1)
	assert.False(t, factory.created[0].destroyed)

	require.NoError(t, p.Release())
	assert.True(t, factory.created[0].destroyed)

	_, err = p.Process(monoFrame(make([]int16, FrameSize)), 0)
	require.NoError(t, err)
	assert.Len(t, factory.created, 2)
}

func TestPipeline_SpectralModelWithoutModelPassesThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoiseSuppression = true
	cfg.NoiseAlgorithm = NoiseSpectralModel
	p := newTestPipeline(t, cfg)

	input := noise(700, 2000, 5)
	out, err := p.Process(monoFrame(input), 0)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, input, pcm.DecodeInt16(out.Buffer))
}

func TestPipeline_UpdateConfig(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig())

	bad := DefaultConfig()
	bad.Amplification = 100
	bad.VADThreshold = -5
	err := p.UpdateConfig(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, DefaultConfig(), p.Config())

	good := DefaultConfig()
	good.AGC = true
	good.VAD = true
	good.Dereverb = true
	good.Amplification = 1.5
	require.NoError(t, p.UpdateConfig(good))
	assert.Equal(t, good, p.Config())
	assert.Equal(t, []string{"Dereverb(0.50)", "VoiceGate(-64dB)", "AutoGain(1.00)", "Gain(1.50)"}, p.Stages())

	good.Dereverb = false
	good.Amplification = 1.0
	require.NoError(t, p.UpdateConfig(good))
	assert.Equal(t, []string{"VoiceGate(-64dB)", "AutoGain(1.00)"}, p.Stages())
}

func TestPipeline_UpdateConfigRejectsNaN(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"amplification", func(c *Config) { c.Amplification = math.NaN() }},
		{"dereverb level", func(c *Config) { c.DereverbLevel = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, DefaultConfig())
			cfg := DefaultConfig()
			cfg.Dereverb = true
			tt.mutate(&cfg)

			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
			assert.ErrorIs(t, p.UpdateConfig(cfg), ErrInvalidConfig)
			assert.Equal(t, DefaultConfig(), p.Config())
			assert.Empty(t, p.Stages())

			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPipeline_ConcurrentUpdateAndProcess(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cfg := DefaultConfig()
			cfg.AGC = i%2 == 0
			cfg.Amplification = float64(i%4) + 0.5
			assert.NoError(t, p.UpdateConfig(cfg))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := p.Process(monoFrame(generateSineWave(480, 4000)), 0)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown algorithm", mutate: func(c *Config) { c.NoiseAlgorithm = "magic" }, wantErr: true},
		{name: "agc target high", mutate: func(c *Config) { c.AGCTarget = 101 }, wantErr: true},
		{name: "vad threshold negative", mutate: func(c *Config) { c.VADThreshold = -1 }, wantErr: true},
		{name: "dereverb level high", mutate: func(c *Config) { c.DereverbLevel = 1.5 }, wantErr: true},
		{name: "amplification max", mutate: func(c *Config) { c.Amplification = MaxAmplification }},
		{name: "amplification negative", mutate: func(c *Config) { c.Amplification = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
