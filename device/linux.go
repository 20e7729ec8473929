package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PipeWire node names of the virtual microphone graph.
const (
	SinkName         = "MicYouVirtualSink"
	SourceName       = "MicYouVirtualMic"
	loopbackCapture  = "micyou-loopback-capture"
	loopbackPlayback = "micyou-loopback-playback"
)

var nodeIDPattern = regexp.MustCompile(`(\d+)`)

// pipeWire builds a null sink, a null source and a loopback between them.
// The output router plays into the sink; applications record the source.
type pipeWire struct {
	platform Platform
	runner   Runner
	store    DefaultsStore
	settle   time.Duration

	mu          sync.Mutex
	sinkID      string
	sourceID    string
	loopbackID  string
	prepared    bool
	savedSource string
	savedSink   string
	state       State
}

func newPipeWire(platform Platform, deps Dependencies) *pipeWire {
	p := &pipeWire{
		platform: platform,
		runner:   deps.Runner,
		store:    storeOf(deps),
		settle:   500 * time.Millisecond,
	}
	saved := loadSaved(p.store)
	if saved.Input != nil {
		p.savedSource = saved.Input.ID
	}
	if saved.Output != nil {
		p.savedSink = saved.Output.ID
	}
	return p
}

func (p *pipeWire) Platform() Platform { return p.platform }

// available reports whether pw-cli can be run.
func (p *pipeWire) available(ctx context.Context) bool {
	_, err := run(ctx, p.runner, "pw-cli", "--version")
	return err == nil
}

func (p *pipeWire) IsInstalled(ctx context.Context) bool {
	out, err := run(ctx, p.runner, "pw-cli", "list-objects")
	installed := err == nil && strings.Contains(out, SinkName) && strings.Contains(out, SourceName)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !installed {
		p.state = StateNotInstalled
	} else if p.state != StateRouted {
		p.state = StateInstalled
	}
	return installed
}

func (p *pipeWire) Install(ctx context.Context) <-chan Progress {
	ch := make(chan Progress, 4)
	go func() {
		defer close(ch)
		send(ctx, ch, Progress{Message: "Checking the Linux audio system"})
		if !p.available(ctx) {
			send(ctx, ch, Progress{Message: "PipeWire is not available", Done: true,
				Err: fmt.Errorf("%w: pw-cli not found", ErrNotInstalled)})
			return
		}

		if p.IsInstalled(ctx) {
			send(ctx, ch, Progress{Message: "Virtual device already exists, configuring"})
		} else {
			send(ctx, ch, Progress{Message: "Creating virtual audio device"})
			if err := p.setup(ctx); err != nil {
				send(ctx, ch, Progress{Message: "Creating the virtual device failed, check permissions and the audio service", Done: true, Err: err})
				return
			}
		}

		if err := p.RouteDefaultInput(ctx, true); err != nil {
			send(ctx, ch, Progress{Message: "Virtual device ready, setting it as default input failed", Done: true, Err: err})
			return
		}
		send(ctx, ch, Progress{Message: "Configuration complete", Done: true})
	}()
	return ch
}

// setup creates the graph from scratch. Partial graphs are torn down on failure.
func (p *pipeWire) setup(ctx context.Context) error {
	if err := p.destroyGraph(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "pipeWire.setup",
			"error":    err.Error(),
		}).Debug("Pre-setup cleanup reported errors")
	}

	sinkID, err := p.createNode(ctx, "adapter",
		"factory.name=support.null-audio-sink",
		"node.name="+SinkName,
		"media.class=Audio/Sink",
		"object.linger=true",
		"audio.position=[FL FR]")
	if err != nil {
		return fmt.Errorf("create virtual sink: %w", err)
	}
	p.setIDs(func() { p.sinkID = sinkID })
	if err := p.wait(ctx); err != nil {
		return err
	}

	sourceID, err := p.createNode(ctx, "adapter",
		"factory.name=support.null-audio-sink",
		"node.name="+SourceName,
		"media.class=Audio/Source",
		"object.linger=true",
		"audio.position=[FL FR]")
	if err != nil {
		return errors.Join(fmt.Errorf("create virtual source: %w", err), p.destroyGraph(ctx))
	}
	p.setIDs(func() { p.sourceID = sourceID })
	if err := p.wait(ctx); err != nil {
		return err
	}

	loopbackID, err := p.createNode(ctx, "loopback",
		"capture.props={node.name="+loopbackCapture+" target.object="+SinkName+"}",
		"playback.props={node.name="+loopbackPlayback+" target.object="+SourceName+"}")
	if err != nil {
		return errors.Join(fmt.Errorf("create loopback: %w", err), p.destroyGraph(ctx))
	}
	p.setIDs(func() { p.loopbackID = loopbackID })
	if err := p.wait(ctx); err != nil {
		return err
	}

	if _, err := run(ctx, p.runner, "pw-cli", "set-param", SinkName, "Props",
		"{media.role=Communication device.intended-roles=Communication}"); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "pipeWire.setup",
			"error":    err.Error(),
		}).Warn("Hiding the virtual sink failed")
	}

	p.mu.Lock()
	if p.state != StateRouted {
		p.state = StateInstalled
	}
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "pipeWire.setup",
		"sink_id":     sinkID,
		"source_id":   sourceID,
		"loopback_id": loopbackID,
	}).Info("PipeWire virtual microphone created")
	return nil
}

func (p *pipeWire) setIDs(f func()) {
	p.mu.Lock()
	f()
	p.mu.Unlock()
}

// remember changes the saved defaults and writes them to the store.
func (p *pipeWire) remember(f func()) {
	p.mu.Lock()
	f()
	var saved SavedDefaults
	if p.savedSource != "" {
		saved.Input = &SavedDevice{ID: p.savedSource}
	}
	if p.savedSink != "" {
		saved.Output = &SavedDevice{ID: p.savedSink}
	}
	p.mu.Unlock()
	persistSaved(p.store, saved)
}

func (p *pipeWire) wait(ctx context.Context) error {
	if p.settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// createNode runs pw-cli create-node and returns the object id it reports.
// pw-cli sometimes exits non-zero even though the node was created, so the
// output is checked as well.
func (p *pipeWire) createNode(ctx context.Context, factory string, props ...string) (string, error) {
	args := append([]string{"create-node", factory}, props...)
	out, err := run(ctx, p.runner, "pw-cli", args...)
	if err != nil && !strings.Contains(out, "created") && !strings.Contains(out, "bound") {
		return "", err
	}
	id := ""
	if m := nodeIDPattern.FindStringSubmatch(out); m != nil {
		id = m[1]
	}
	return id, nil
}

// Prepare builds the graph when it is missing. A graph that already exists,
// whether from install or an earlier Prepare, is reported as not created.
func (p *pipeWire) Prepare(ctx context.Context) (bool, error) {
	p.mu.Lock()
	prepared := p.prepared
	p.mu.Unlock()
	if prepared || p.IsInstalled(ctx) {
		return false, nil
	}
	if !p.available(ctx) {
		return false, fmt.Errorf("%w: pw-cli not found", ErrNotInstalled)
	}
	if err := p.setup(ctx); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.prepared = true
	p.mu.Unlock()
	return true, nil
}

func (p *pipeWire) RouteDefaultInput(ctx context.Context, enable bool) error {
	if !enable {
		return p.restoreInput(ctx)
	}

	p.mu.Lock()
	saved := p.savedSource
	target := p.sourceID
	p.mu.Unlock()

	if saved == "" {
		if current, err := run(ctx, p.runner, "pactl", "get-default-source"); err == nil && current != "" && current != SourceName {
			p.remember(func() { p.savedSource = current })
		}
	}

	if target == "" {
		target = SourceName
	}
	if _, err := run(ctx, p.runner, "wpctl", "set-default", target); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "pipeWire.RouteDefaultInput",
			"error":    err.Error(),
		}).Warn("wpctl set-default failed, trying pactl")
		if _, err := run(ctx, p.runner, "pactl", "set-default-source", SourceName); err != nil {
			return fmt.Errorf("set default source: %w", err)
		}
	}

	p.setIDs(func() { p.state = StateRouted })
	logrus.WithFields(logrus.Fields{
		"function": "pipeWire.RouteDefaultInput",
		"source":   SourceName,
		"previous": saved,
	}).Info("Default input routed to virtual microphone")
	return nil
}

func (p *pipeWire) restoreInput(ctx context.Context) error {
	p.mu.Lock()
	saved := p.savedSource
	p.mu.Unlock()
	if saved == "" {
		return nil
	}
	if _, err := run(ctx, p.runner, "pactl", "set-default-source", saved); err != nil {
		return fmt.Errorf("restore default source %s: %w", saved, err)
	}
	p.remember(func() {
		p.savedSource = ""
		p.state = StateInstalled
	})
	return nil
}

func (p *pipeWire) RouteDefaultOutput(ctx context.Context, enable bool) error {
	p.mu.Lock()
	saved := p.savedSink
	p.mu.Unlock()

	if !enable {
		if saved == "" {
			return nil
		}
		if _, err := run(ctx, p.runner, "pactl", "set-default-sink", saved); err != nil {
			return fmt.Errorf("restore default sink %s: %w", saved, err)
		}
		p.remember(func() { p.savedSink = "" })
		return nil
	}

	if saved == "" {
		if current, err := run(ctx, p.runner, "pactl", "get-default-sink"); err == nil && current != "" && current != SinkName {
			p.remember(func() { p.savedSink = current })
		}
	}
	if _, err := run(ctx, p.runner, "pactl", "set-default-sink", SinkName); err != nil {
		return fmt.Errorf("set default sink: %w", err)
	}
	return nil
}

// Cleanup restores saved defaults, then destroys loopback, source and sink
// in that order. Objects that no longer exist count as removed, so repeated
// calls succeed.
func (p *pipeWire) Cleanup(ctx context.Context) error {
	return errors.Join(
		p.restoreInput(ctx),
		p.RouteDefaultOutput(ctx, false),
		p.destroyGraph(ctx),
	)
}

// destroyGraph removes the nodes by id, or by name when the ids are unknown.
func (p *pipeWire) destroyGraph(ctx context.Context) error {
	p.mu.Lock()
	loopbackID, sourceID, sinkID := p.loopbackID, p.sourceID, p.sinkID
	p.mu.Unlock()

	var errs []error
	if loopbackID != "" {
		errs = append(errs, p.destroy(ctx, loopbackID))
	} else {
		errs = append(errs, p.destroy(ctx, loopbackCapture), p.destroy(ctx, loopbackPlayback))
	}
	errs = append(errs, p.destroy(ctx, firstNonEmpty(sourceID, SourceName)))
	errs = append(errs, p.destroy(ctx, firstNonEmpty(sinkID, SinkName)))

	p.mu.Lock()
	p.loopbackID, p.sourceID, p.sinkID = "", "", ""
	p.prepared = false
	p.state = StateNotInstalled
	p.mu.Unlock()

	return errors.Join(errs...)
}

func (p *pipeWire) destroy(ctx context.Context, object string) error {
	out, err := run(ctx, p.runner, "pw-cli", "destroy", object)
	if err == nil || strings.Contains(out, "not found") || strings.Contains(out, "No such") {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "pipeWire.destroy",
		"object":   object,
		"error":    err.Error(),
	}).Warn("Destroying PipeWire object failed")
	return err
}

func (p *pipeWire) OutputTargets() []Target {
	return []Target{
		{Name: "micyou", Virtual: true},
		{Name: "virtual", Virtual: true},
		{Name: "pulse", Virtual: true},
		{Name: "pipewire", Virtual: true},
	}
}

// SharesDefaultEndpoint is true: the desktop audio server mixes the default
// output, so the loopback still receives the stream.
func (p *pipeWire) SharesDefaultEndpoint() bool { return true }

func (p *pipeWire) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
