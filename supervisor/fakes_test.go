package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/micbridge/audio"
	"github.com/opd-ai/micbridge/observe"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/opd-ai/micbridge/transport"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type fakePipeline struct {
	mu        sync.Mutex
	processed int
	resets    int
	releases  int
	configs   []audio.Config
	queued    []int64
	drop      bool
	err       error
	configErr error
}

func (p *fakePipeline) Process(frame pcm.Frame, queuedMs int64) (*pcm.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	p.queued = append(p.queued, queuedMs)
	if p.err != nil {
		return nil, p.err
	}
	if p.drop {
		return nil, nil
	}
	return &frame, nil
}

func (p *fakePipeline) UpdateConfig(cfg audio.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.configErr != nil {
		return p.configErr
	}
	p.configs = append(p.configs, cfg)
	return nil
}

func (p *fakePipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *fakePipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	return nil
}

func (p *fakePipeline) counts() (processed, resets, releases int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.resets, p.releases
}

type fakeOutput struct {
	mu         sync.Mutex
	inits      [][2]int
	writes     [][]byte
	monitoring bool
	releases   int
	queuedMs   int64
	initErr    error
	writeErr   error
	releaseErr error
}

func (o *fakeOutput) Init(_ context.Context, sampleRate, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inits = append(o.inits, [2]int{sampleRate, channels})
	return o.initErr
}

func (o *fakeOutput) Write(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writeErr != nil {
		return o.writeErr
	}
	o.writes = append(o.writes, append([]byte(nil), p...))
	return nil
}

func (o *fakeOutput) QueuedDurationMs() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queuedMs
}

func (o *fakeOutput) SetMonitoring(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.monitoring = enabled
}

func (o *fakeOutput) Release(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releases++
	return o.releaseErr
}

func (o *fakeOutput) writeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writes)
}

func (o *fakeOutput) released() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.releases
}

type fakeTunnel struct {
	mu    sync.Mutex
	ports []int
	err   error
	order *[]string
}

func (f *fakeTunnel) Reverse(_ context.Context, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = append(f.ports, port)
	if f.order != nil {
		*f.order = append(*f.order, "tunnel")
	}
	return f.err
}

var errListenerClosed = errors.New("pipe listener closed")

// pipeListener hands out the server ends of in-memory pipes.
type pipeListener struct {
	conns  chan io.ReadWriteCloser
	closed chan struct{}
	once   sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{
		conns:  make(chan io.ReadWriteCloser),
		closed: make(chan struct{}),
	}
}

func (l *pipeListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, errListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *pipeListener) Addr() string { return "pipe" }

// dial connects a new client and returns its end of the pipe.
func (l *pipeListener) dial(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	l.conns <- server
	return client
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

type harness struct {
	sup      *Supervisor
	pipeline *fakePipeline
	output   *fakeOutput
	tunnel   *fakeTunnel
	listener *pipeListener
	listens  int
	mu       sync.Mutex
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		pipeline: &fakePipeline{},
		output:   &fakeOutput{},
		tunnel:   &fakeTunnel{},
		listener: newPipeListener(),
	}
	base := []Option{
		WithTunnel(h.tunnel),
		WithMetrics(testMetrics(t)),
		WithListenFunc(func(StartRequest) (transport.Listener, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.listens++
			return h.listener, nil
		}),
	}
	h.sup = New(h.pipeline, h.output, append(base, opts...)...)
	t.Cleanup(func() { _ = h.sup.Stop(context.Background()) })
	return h
}

func (h *harness) listenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listens
}

func sendFrame(t *testing.T, conn net.Conn, msg *transport.Message) {
	t.Helper()
	payload, err := msg.Serialize()
	require.NoError(t, err)
	_, err = conn.Write(transport.AppendFrame(nil, payload))
	require.NoError(t, err)
}

func toneFrame() pcm.Frame {
	samples := make([]int16, 480)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 16384
		} else {
			samples[i] = -16384
		}
	}
	return pcm.Frame{
		Buffer:     pcm.EncodeInt16(samples),
		SampleRate: 48000,
		Channels:   1,
		Format:     pcm.FormatPCM16,
	}
}
