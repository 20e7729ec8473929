package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/micbridge/pcm"
	"github.com/sirupsen/logrus"
)

// DefaultBacklogLimit is the output backlog above which fully gated buffers
// are dropped instead of queued.
const DefaultBacklogLimit = 200 * time.Millisecond

// Observer is notified of pipeline events. observe.Metrics satisfies it.
type Observer interface {
	FrameProcessed(elapsed time.Duration)
	FrameDropped()
}

type nopObserver struct{}

func (nopObserver) FrameProcessed(time.Duration) {}
func (nopObserver) FrameDropped()                {}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver reports processing time and drops to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithDenoiserFactory overrides the handle factory for one algorithm.
func WithDenoiserFactory(algorithm NoiseAlgorithm, factory DenoiserFactory) Option {
	return func(p *Pipeline) {
		p.factories[algorithm] = factory
	}
}

// WithSpectralModel configures the spectral-model strategy.
func WithSpectralModel(cfg ModelConfig) Option {
	return WithDenoiserFactory(NoiseSpectralModel, NewModelDenoiserFactory(cfg))
}

// WithBacklogLimit changes the backlog threshold for dropping gated buffers.
func WithBacklogLimit(d time.Duration) Option {
	return func(p *Pipeline) {
		p.backlogLimit = d
	}
}

// Pipeline is the streaming DSP chain. All methods are safe for concurrent
// use; processing and configuration changes are serialized.
type Pipeline struct {
	mu           sync.Mutex
	cfg          Config
	factories    map[NoiseAlgorithm]DenoiserFactory
	backlogLimit time.Duration
	observer     Observer

	ns       *NoiseSuppressor
	dereverb *Dereverb
	vad      *VoiceGate
	agc      *AutoGainEffect
	gain     *GainEffect

	// every stage, for Reset and Release
	all     *EffectChain
	// enabled stages up to and including the voice gate, then the ones after
	gated   *EffectChain
	shaping *EffectChain

	sampleRate uint32
	channels   uint32
}

// New creates a pipeline with cfg.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg: cfg,
		factories: map[NoiseAlgorithm]DenoiserFactory{
			NoiseRecurrent:     NewRecurrentDenoiser,
			NoiseClassical:     NewSpectralSubtractor,
			NoiseSpectralModel: NewModelDenoiserFactory(ModelConfig{}),
		},
		backlogLimit: DefaultBacklogLimit,
		observer:     nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ns = NewNoiseSuppressor(cfg.NoiseAlgorithm, p.factories[cfg.NoiseAlgorithm])
	var err error
	if p.dereverb, err = NewDereverb(cfg.DereverbLevel, 48000); err != nil {
		return nil, err
	}
	if p.vad, err = NewVoiceGate(cfg.VADThreshold); err != nil {
		return nil, err
	}
	if p.agc, err = NewAutoGainEffect(cfg.AGCTarget); err != nil {
		return nil, err
	}
	if p.gain, err = NewGainEffect(cfg.Amplification); err != nil {
		return nil, err
	}
	p.all = NewEffectChain(p.ns, p.dereverb, p.vad, p.agc, p.gain)
	p.buildChains()

	logrus.WithFields(logrus.Fields{
		"function":         "audio.New",
		"noise":            cfg.NoiseSuppression,
		"noise_algorithm":  string(cfg.NoiseAlgorithm),
		"agc":              cfg.AGC,
		"vad":              cfg.VAD,
		"dereverb":         cfg.Dereverb,
		"amplification":    cfg.Amplification,
		"backlog_limit_ms": p.backlogLimit.Milliseconds(),
	}).Debug("Audio pipeline created")

	return p, nil
}

// Config returns the active configuration.
func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Process runs frame through the enabled stages and returns a PCM16 frame.
//
// Parameters:
//   - frame: decoded audio in any supported format
//   - queuedMs: output backlog reported by the router
//
// Returns:
//   - *pcm.Frame: processed frame, or nil when nothing should be written
//   - error: invalid input or a denoiser failure
func (p *Pipeline) Process(frame pcm.Frame, queuedMs int64) (*pcm.Frame, error) {
	started := time.Now()
	in, err := pcm.ToPCM16(frame)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.trackFormat(in)
	cfg := p.cfg
	channels := int(in.Channels)

	if !cfg.NoiseSuppression && p.ns.Pending() == 0 && !p.anyStageEnabled() {
		p.observer.FrameProcessed(time.Since(started))
		return &in, nil
	}

	samples := pcm.DecodeInt16(in.Buffer)
	if cfg.NoiseSuppression {
		if samples, err = p.ns.Process(samples, channels); err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			return nil, nil
		}
	} else if carry := p.ns.TakeCarry(); len(carry) > 0 {
		samples = append(carry, samples...)
	}

	if cfg.VAD {
		speech, ok := p.ns.SpeechProbability()
		p.vad.SetSpeechProbability(speech, ok && cfg.NoiseSuppression)
	}
	if samples, err = p.gated.Process(samples, channels); err != nil {
		return nil, err
	}
	if cfg.VAD && p.vad.Closed() && time.Duration(queuedMs)*time.Millisecond > p.backlogLimit {
		p.observer.FrameDropped()
		logrus.WithFields(logrus.Fields{
			"function":  "Pipeline.Process",
			"queued_ms": queuedMs,
		}).Debug("Dropping gated frame while output is backlogged")
		return nil, nil
	}
	if samples, err = p.shaping.Process(samples, channels); err != nil {
		return nil, err
	}

	p.observer.FrameProcessed(time.Since(started))
	return &pcm.Frame{
		Buffer:     pcm.EncodeInt16(samples),
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
		Format:     pcm.FormatPCM16,
	}, nil
}

func (p *Pipeline) anyStageEnabled() bool {
	return p.gated.GetEffectCount()+p.shaping.GetEffectCount() > 0
}

// buildChains selects the stages enabled by p.cfg, in processing order.
func (p *Pipeline) buildChains() {
	p.gated, p.shaping = NewEffectChain(), NewEffectChain()
	if p.cfg.Dereverb {
		p.gated.AddEffect(p.dereverb)
	}
	if p.cfg.VAD {
		p.gated.AddEffect(p.vad)
	}
	if p.cfg.AGC {
		p.shaping.AddEffect(p.agc)
	}
	if p.cfg.Amplification != 1.0 {
		p.shaping.AddEffect(p.gain)
	}
}

// trackFormat discards the carry when the stream layout changes, since
// carried samples cannot be joined with a different rate or channel count.
func (p *Pipeline) trackFormat(in pcm.Frame) {
	if in.SampleRate == p.sampleRate && in.Channels == p.channels {
		return
	}
	if p.channels != 0 && p.ns.Pending() > 0 {
		logrus.WithFields(logrus.Fields{
			"function":     "Pipeline.Process",
			"old_rate":     p.sampleRate,
			"old_channels": p.channels,
			"new_rate":     in.SampleRate,
			"new_channels": in.Channels,
			"dropped":      p.ns.Pending(),
		}).Debug("Stream format changed, discarding carried samples")
		p.ns.TakeCarry()
	}
	p.sampleRate, p.channels = in.SampleRate, in.Channels
	p.dereverb.SetSampleRate(int(in.SampleRate))
}

// UpdateConfig validates cfg and applies it from the next frame on.
func (p *Pipeline) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if cfg.NoiseAlgorithm != p.cfg.NoiseAlgorithm {
		if err := p.ns.SetAlgorithm(cfg.NoiseAlgorithm, p.factories[cfg.NoiseAlgorithm]); err != nil {
			errs = append(errs, fmt.Errorf("release %s handles: %w", p.cfg.NoiseAlgorithm, err))
		}
	}
	errs = append(errs,
		p.dereverb.SetLevel(cfg.DereverbLevel),
		p.vad.SetThreshold(cfg.VADThreshold),
		p.agc.SetTarget(cfg.AGCTarget),
		p.gain.SetGain(cfg.Amplification),
	)
	p.cfg = cfg
	p.buildChains()

	logrus.WithFields(logrus.Fields{
		"function":        "Pipeline.UpdateConfig",
		"stages":          p.stageNames(),
		"noise":           cfg.NoiseSuppression,
		"noise_algorithm": string(cfg.NoiseAlgorithm),
		"agc":             cfg.AGC,
		"vad":             cfg.VAD,
		"dereverb":        cfg.Dereverb,
		"amplification":   cfg.Amplification,
	}).Info("Pipeline configuration updated")

	return errors.Join(errs...)
}

// Reset clears adaptive state and the carry. Denoiser handles are kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all.Reset()
	p.sampleRate, p.channels = 0, 0
}

// Release destroys denoiser handles. The pipeline stays usable and
// recreates handles on demand.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all.Reset()
	p.sampleRate, p.channels = 0, 0
	return p.all.Close()
}

// SpeechProbability returns the latest recurrent speech probability and
// whether one is available.
func (p *Pipeline) SpeechProbability() (float32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.NoiseSuppression {
		return 0, false
	}
	return p.ns.SpeechProbability()
}

// Stages returns the names of the stages that would run for the next frame.
func (p *Pipeline) Stages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stageNames()
}

func (p *Pipeline) stageNames() []string {
	var names []string
	if p.cfg.NoiseSuppression {
		names = append(names, p.ns.GetName())
	}
	names = append(names, p.gated.GetEffectNames()...)
	return append(names, p.shaping.GetEffectNames()...)
}
