package micbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/micbridge/audio"
	"github.com/opd-ai/micbridge/config"
	"github.com/opd-ai/micbridge/device"
	"github.com/opd-ai/micbridge/observe"
	"github.com/opd-ai/micbridge/output"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/opd-ai/micbridge/supervisor"
	"github.com/opd-ai/micbridge/transport"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
)

// Option customizes how a Bridge is assembled.
type Option func(*options)

type options struct {
	platform      *device.Platform
	backend       output.Backend
	runner        device.Runner
	policy        device.PolicyConfig
	meterProvider metric.MeterProvider
	store         device.DefaultsStore
	supervisor    []supervisor.Option
}

// WithPlatform skips host detection.
func WithPlatform(p device.Platform) Option {
	return func(o *options) {
		o.platform = &p
	}
}

// WithBackend replaces the native audio backend. The Bridge does not close
// a backend passed this way.
func WithBackend(b output.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithRunner replaces how external tools are executed.
func WithRunner(r device.Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// WithPolicyConfig replaces the Windows default-endpoint API.
func WithPolicyConfig(p device.PolicyConfig) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithDefaultsStore replaces where the replaced default devices are kept.
func WithDefaultsStore(s device.DefaultsStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithMeterProvider records metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithSupervisorOptions passes extra options to the stream supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(o *options) {
		o.supervisor = append(o.supervisor, opts...)
	}
}

// Bridge is a fully wired receiver for one host: platform strategy, output
// router, processing pipeline and stream supervisor.
type Bridge struct {
	cfg      *config.Config
	platform device.Platform
	runner   device.Runner
	strategy device.Strategy
	metrics  *observe.Metrics

	backend      output.Backend
	closeBackend func() error
	pipeline     *audio.Pipeline
	router       *output.Router
	supervisor   *supervisor.Supervisor

	mu          sync.Mutex
	routedInput bool
}

// New assembles a Bridge from cfg. When no native audio backend is available
// the device commands still work and Start fails with
// output.ErrBackendUnavailable.
//
// Parameters:
//   - ctx: bounds host detection
//   - cfg: validated configuration; nil uses config.Default
//   - opts: replacements for detected collaborators
//
// Returns:
//   - *Bridge: the assembled bridge; call Close when done
//   - error: invalid configuration or pipeline construction failure
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{cfg: cfg, runner: o.runner}
	if b.runner == nil {
		b.runner = device.ExecRunner{}
	}
	if o.platform != nil {
		b.platform = *o.platform
	} else {
		b.platform = device.DetectPlatform(ctx)
	}

	metrics := observe.DefaultMetrics()
	if o.meterProvider != nil {
		m, err := observe.NewMetrics(o.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		metrics = m
	}
	b.metrics = metrics

	b.backend = o.backend
	if b.backend == nil {
		mb, err := output.NewMalgoBackend()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "New",
				"error":    err.Error(),
			}).Warn("Native audio backend unavailable, streaming disabled")
		} else {
			b.backend = mb
			b.closeBackend = mb.Close
		}
	}

	deps := device.Dependencies{
		Runner:        b.runner,
		PolicyConfig:  o.policy,
		InstallerPath: cfg.Device.InstallerPath,
		DownloadURL:   cfg.Device.DownloadURL,
		Store:         o.store,
	}
	if deps.Store == nil {
		deps.Store = defaultsStore(cfg.Device.StateFile)
	}
	if b.backend != nil {
		deps.Enumerator = b.backend
	}
	b.strategy = device.NewStrategy(b.platform, deps)

	pipelineOpts := []audio.Option{audio.WithObserver(metrics)}
	if cfg.Device.Model.ModelPath != "" {
		pipelineOpts = append(pipelineOpts, audio.WithSpectralModel(cfg.Device.Model))
	}
	pipeline, err := audio.New(cfg.Pipeline, pipelineOpts...)
	if err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	b.pipeline = pipeline

	if b.backend != nil {
		b.router = output.NewRouter(b.backend, b.strategy)
		supOpts := []supervisor.Option{
			supervisor.WithMetrics(metrics),
			supervisor.WithTunnel(transport.NewADBTunnel(b.runner)),
			supervisor.WithFirewall(func(ctx context.Context, port int) error {
				return device.EnsureFirewallRule(ctx, b.platform, b.runner, port)
			}),
		}
		b.supervisor = supervisor.New(pipeline, b.router, append(supOpts, o.supervisor...)...)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"platform": b.platform.String(),
		"strategy": fmt.Sprintf("%T", b.strategy),
		"audio":    b.backend != nil,
	}).Info("Bridge assembled")
	return b, nil
}

// Platform returns the detected or configured host platform.
func (b *Bridge) Platform() device.Platform { return b.platform }

// Strategy returns the virtual device strategy for the platform.
func (b *Bridge) Strategy() device.Strategy { return b.strategy }

// Pipeline returns the processing pipeline.
func (b *Bridge) Pipeline() *audio.Pipeline { return b.pipeline }

// Supervisor returns the stream supervisor, or nil without an audio backend.
func (b *Bridge) Supervisor() *supervisor.Supervisor { return b.supervisor }

// Devices lists the audio endpoints seen by the native backend.
func (b *Bridge) Devices(ctx context.Context) ([]device.Info, error) {
	if b.backend == nil {
		return nil, output.ErrBackendUnavailable
	}
	return b.backend.Devices(ctx)
}

// StartRequest builds a start request from the server, pipeline and output
// sections of the configuration.
func (b *Bridge) StartRequest() (supervisor.StartRequest, error) {
	mode, err := transport.ParseMode(b.cfg.Server.Mode)
	if err != nil {
		return supervisor.StartRequest{}, err
	}
	format, err := pcm.ParseFormat(b.cfg.Server.Format)
	if err != nil {
		return supervisor.StartRequest{}, err
	}
	pipeline := b.cfg.Pipeline
	return supervisor.StartRequest{
		Address:          b.cfg.Server.Address,
		Port:             b.cfg.Server.Port,
		Mode:             mode,
		Role:             transport.RoleServer,
		BluetoothChannel: b.cfg.Server.BluetoothChannel,
		SampleRate:       b.cfg.Server.SampleRate,
		Channels:         b.cfg.Server.Channels,
		Format:           format,
		Config:           &pipeline,
		Monitoring:       b.cfg.Output.Monitoring,
	}, nil
}

// defaultsStore returns a file store at path, or at the default location
// when path is empty. Without a config directory the saved defaults live
// only in memory.
func defaultsStore(path string) device.DefaultsStore {
	if path == "" {
		p, err := device.DefaultStatePath()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "defaultsStore",
				"error":    err.Error(),
			}).Warn("No config directory, saved default devices will not survive a restart")
			return &device.MemoryStore{}
		}
		path = p
	}
	return device.NewFileStore(path)
}

// Start begins listening with the configured settings. With
// device.route_input set, the default input is switched to the virtual
// device once the listener is up; Close switches it back.
func (b *Bridge) Start(ctx context.Context) error {
	if b.supervisor == nil {
		return output.ErrBackendUnavailable
	}
	req, err := b.StartRequest()
	if err != nil {
		return err
	}
	if err := b.supervisor.Start(ctx, req); err != nil {
		return err
	}
	if b.cfg.Device.RouteInput {
		b.routeInput(ctx)
	}
	return nil
}

func (b *Bridge) routeInput(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.routedInput {
		return
	}
	if err := b.strategy.RouteDefaultInput(ctx, true); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.Start",
			"error":    err.Error(),
		}).Warn("Could not make the virtual device the default input")
		return
	}
	b.routedInput = true
}

// restoreInput switches the default input back if Start changed it.
func (b *Bridge) restoreInput(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.routedInput {
		return nil
	}
	b.routedInput = false
	err := b.strategy.RouteDefaultInput(ctx, false)
	if errors.Is(err, device.ErrRestoreUnsupported) {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.Close",
		}).Warn("Restore the previous default input in the sound settings")
		return nil
	}
	return err
}

// Stop ends streaming and releases the pipeline and output.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.supervisor == nil {
		return b.pipeline.Release()
	}
	return b.supervisor.Stop(ctx)
}

// ApplyConfig pushes the live-reloadable parts of cfg: the pipeline settings
// and monitoring. Server settings take effect on the next Start.
func (b *Bridge) ApplyConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.cfg = cfg
	if b.supervisor == nil {
		return b.pipeline.UpdateConfig(cfg.Pipeline)
	}
	b.supervisor.SetMonitoring(cfg.Output.Monitoring)
	return b.supervisor.UpdateConfig(cfg.Pipeline)
}

// Close stops streaming, restores a default input Start switched and frees
// the native audio backend.
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	if b.pipeline != nil {
		errs = append(errs, b.Stop(ctx))
	}
	if b.strategy != nil {
		errs = append(errs, b.restoreInput(ctx))
	}
	if b.closeBackend != nil {
		errs = append(errs, b.closeBackend())
		b.closeBackend = nil
	}
	return errors.Join(errs...)
}
