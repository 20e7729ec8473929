package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/opd-ai/micbridge/audio"
	"github.com/opd-ai/micbridge/device"
	"github.com/opd-ai/micbridge/observe"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/opd-ai/micbridge/transport"
	"github.com/sirupsen/logrus"
)

// Pipeline processes received frames. *audio.Pipeline satisfies it.
type Pipeline interface {
	Process(frame pcm.Frame, queuedMs int64) (*pcm.Frame, error)
	UpdateConfig(cfg audio.Config) error
	Reset()
	Release() error
}

// Output plays processed audio. *output.Router satisfies it.
type Output interface {
	Init(ctx context.Context, sampleRate, channels int) error
	Write(p []byte) error
	QueuedDurationMs() int64
	SetMonitoring(enabled bool)
	Release(ctx context.Context) error
}

// Tunnel forwards the listening port over USB. *transport.ADBTunnel
// satisfies it.
type Tunnel interface {
	Reverse(ctx context.Context, port int) error
}

// ListenFunc opens the listener for a start request.
type ListenFunc func(req StartRequest) (transport.Listener, error)

// FirewallFunc makes sure inbound connections to port are allowed.
type FirewallFunc func(ctx context.Context, port int) error

// StartRequest describes one listening job.
type StartRequest struct {
	Address          string
	Port             int
	Mode             transport.Mode
	Role             transport.Role
	BluetoothChannel int
	// SampleRate, Channels and Format are what the sender was asked to
	// use. Playback follows the format of each received frame.
	SampleRate int
	Channels   int
	Format     pcm.Format
	// Config, when set, is applied to the pipeline before listening.
	Config     *audio.Config
	Monitoring bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTunnel replaces the adb reverse tunnel used in USB mode.
func WithTunnel(t Tunnel) Option {
	return func(s *Supervisor) {
		s.tunnel = t
	}
}

// WithListenFunc replaces how listeners are opened.
func WithListenFunc(f ListenFunc) Option {
	return func(s *Supervisor) {
		s.listen = f
	}
}

// WithFirewall installs a hook run before a network listener opens.
// Failures are logged and do not prevent listening.
func WithFirewall(f FirewallFunc) Option {
	return func(s *Supervisor) {
		s.firewall = f
	}
}

// WithMetrics records session and level metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// Supervisor drives transport, pipeline and output for one sender at a time.
// All telemetry is written only by the Supervisor.
type Supervisor struct {
	pipeline Pipeline
	output   Output
	tunnel   Tunnel
	listen   ListenFunc
	firewall FirewallFunc
	metrics  *observe.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	session *transport.Session

	state   *Observable[StreamState]
	level   *Observable[float64]
	lastErr *Observable[string]
	muted   *Observable[bool]
}

// New creates an idle Supervisor.
func New(pipeline Pipeline, output Output, opts ...Option) *Supervisor {
	s := &Supervisor{
		pipeline: pipeline,
		output:   output,
		listen:   defaultListen,
		state:    NewObservable(StateIdle),
		level:    NewObservable(0.0),
		lastErr:  NewObservable(""),
		muted:    NewObservable(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tunnel == nil {
		s.tunnel = transport.NewADBTunnel(device.ExecRunner{})
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

func defaultListen(req StartRequest) (transport.Listener, error) {
	if req.Mode == transport.ModeBluetooth {
		ln, err := transport.ListenRFCOMM(req.BluetoothChannel)
		if err != nil {
			return nil, err
		}
		return ln, nil
	}
	ln, err := transport.ListenTCP(net.JoinHostPort(req.Address, strconv.Itoa(req.Port)))
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// State returns the stream state telemetry.
func (s *Supervisor) State() *Observable[StreamState] { return s.state }

// Level returns the RMS level (0..1) of the last played frame.
func (s *Supervisor) Level() *Observable[float64] { return s.level }

// LastError returns the message of the last failure, empty when none.
func (s *Supervisor) LastError() *Observable[string] { return s.lastErr }

// Muted returns the mute state shared with the sender.
func (s *Supervisor) Muted() *Observable[bool] { return s.muted }

// Status returns a snapshot of all telemetry values.
func (s *Supervisor) Status() Status {
	return Status{
		State:     s.state.Get(),
		LastError: s.lastErr.Get(),
		Level:     s.level.Get(),
		Muted:     s.muted.Get(),
	}
}

// Running reports whether a job is starting or listening.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && !isClosed(s.done)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Start begins listening for a sender. It returns once the listener is open;
// the job keeps running until Stop or a failure. A call while another job
// is starting or running is ignored, and the client role is a no-op.
//
// Parameters:
//   - ctx: bounds the USB tunnel setup; values are inherited by the job
//   - req: listener and pipeline settings
//
// Returns:
//   - error: ErrTunnel or ErrListen; the state is then StateError
func (s *Supervisor) Start(ctx context.Context, req StartRequest) error {
	if req.Role == transport.RoleClient {
		return nil
	}

	s.mu.Lock()
	if s.done != nil && !isClosed(s.done) {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Supervisor.Start",
			"mode":     req.Mode.String(),
		}).Warn("Already running, ignoring start request")
		return nil
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Supervisor.Start",
		"mode":        req.Mode.String(),
		"address":     req.Address,
		"port":        req.Port,
		"sample_rate": req.SampleRate,
		"channels":    req.Channels,
		"format":      req.Format.String(),
	}).Info("Starting stream")

	ln, err := s.prepare(ctx, jobCtx, req)
	if err != nil {
		close(done)
		if jobCtx.Err() != nil {
			return ErrStopped
		}
		s.fail(err)
		return err
	}

	s.state.Set(StateConnecting)
	go s.run(jobCtx, done, ln, req)
	return nil
}

// prepare runs the pre-start steps and opens the listener.
func (s *Supervisor) prepare(ctx, jobCtx context.Context, req StartRequest) (transport.Listener, error) {
	s.lastErr.Set("")

	if req.Mode == transport.ModeUSB {
		tctx, stop := context.WithCancel(ctx)
		defer stop()
		unhook := context.AfterFunc(jobCtx, stop)
		defer unhook()
		if err := s.tunnel.Reverse(tctx, req.Port); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Supervisor.Start",
				"port":     req.Port,
				"error":    err.Error(),
			}).Error("USB tunnel setup failed")
			return nil, fmt.Errorf("%w: %s", ErrTunnel, transport.ReverseGuidance(req.Port))
		}
	}

	if req.Config != nil {
		if err := s.pipeline.UpdateConfig(*req.Config); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Supervisor.Start",
				"error":    err.Error(),
			}).Warn("Pipeline configuration rejected, keeping previous settings")
		}
	}
	s.output.SetMonitoring(req.Monitoring)

	if s.firewall != nil && req.Mode != transport.ModeBluetooth {
		if err := s.firewall(ctx, req.Port); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Supervisor.Start",
				"port":     req.Port,
				"error":    err.Error(),
			}).Warn("Could not add firewall rule")
		}
	}

	ln, err := s.listen(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListen, err)
	}
	return ln, nil
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}, ln transport.Listener, req StartRequest) {
	defer close(done)

	logrus.WithFields(logrus.Fields{
		"function": "Supervisor.run",
		"addr":     ln.Addr(),
	}).Info("Waiting for sender")

	err := transport.Serve(ctx, ln, func(ctx context.Context, conn io.ReadWriteCloser) error {
		return s.serveConn(ctx, conn, req.Mode)
	})
	if err != nil && ctx.Err() == nil {
		s.fail(err)
	}
}

func (s *Supervisor) serveConn(ctx context.Context, conn io.ReadWriteCloser, mode transport.Mode) error {
	var started bool
	session := transport.NewSession(conn, handler{s},
		transport.WithObserver(s.metrics),
		transport.WithReadyHook(func(id string) {
			started = true
			s.pipeline.Reset()
			s.metrics.SessionStarted(ctx, mode.String())
			s.state.Set(StateStreaming)
		}),
	)

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	err := session.Run(ctx)

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if started {
		outcome := "normal"
		if err != nil {
			outcome = "error"
		}
		s.metrics.SessionEnded(context.WithoutCancel(ctx), mode.String(), outcome)
	}
	s.level.Set(0)

	if err != nil {
		return err
	}
	if ctx.Err() == nil {
		s.state.Set(StateConnecting)
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Supervisor.fail",
		"error":    err.Error(),
	}).Error("Stream failed")
	s.lastErr.Set(err.Error())
	s.state.Set(StateError)
}

// Stop cancels the running job, waits for it to end and returns to
// StateIdle. The pipeline and output are released even when no job runs.
//
// Parameters:
//   - ctx: bounds waiting for the job and draining the output
//
// Returns:
//   - error: release failures, joined; they never leave the supervisor
//     in a state other than StateIdle
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for stream job: %w", ctx.Err()))
		}
	}

	s.lastErr.Set("")
	s.level.Set(0)
	s.state.Set(StateIdle)

	if err := s.output.Release(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release output: %w", err))
	}
	if err := s.pipeline.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release pipeline: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Supervisor.Stop",
			"error":    err.Error(),
		}).Warn("Stopped with cleanup errors")
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "Supervisor.Stop",
		}).Info("Stream stopped")
	}
	return err
}

// SetMute records the local mute state and tells the connected sender.
// Without a sender only the telemetry changes.
func (s *Supervisor) SetMute(muted bool) error {
	s.muted.Set(muted)

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil
	}
	if err := session.Send(transport.NewMuteMessage(muted)); err != nil && !errors.Is(err, transport.ErrSessionClosed) {
		return err
	}
	return nil
}

// UpdateConfig applies cfg to the pipeline from the next frame on.
func (s *Supervisor) UpdateConfig(cfg audio.Config) error {
	return s.pipeline.UpdateConfig(cfg)
}

// SetMonitoring toggles hearing the stream on the default output when no
// virtual device is in use.
func (s *Supervisor) SetMonitoring(enabled bool) {
	s.output.SetMonitoring(enabled)
}
