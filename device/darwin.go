package device

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const switchAudioSource = "SwitchAudioSource"

// BlackHoleInstallURL documents the manual BlackHole install.
const BlackHoleInstallURL = "https://existential.audio/blackhole/"

var blackHolePattern = regexp.MustCompile(`(?i)^BlackHole\s*\d*ch$`)

// switchDevice is one entry of SwitchAudioSource's JSON listing.
type switchDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	UID  string `json:"uid"`
	Type string `json:"type"`
}

// blackHole switches the default devices to a preinstalled BlackHole driver.
type blackHole struct {
	platform   Platform
	runner     Runner
	enumerator Enumerator
	store      DefaultsStore

	mu          sync.Mutex
	savedInput  *switchDevice
	savedOutput *switchDevice
	state       State
}

func newBlackHole(platform Platform, deps Dependencies) *blackHole {
	b := &blackHole{
		platform:   platform,
		runner:     deps.Runner,
		enumerator: deps.Enumerator,
		store:      storeOf(deps),
	}
	saved := loadSaved(b.store)
	if saved.Input != nil {
		b.savedInput = &switchDevice{ID: saved.Input.ID, Name: saved.Input.Name}
	}
	if saved.Output != nil {
		b.savedOutput = &switchDevice{ID: saved.Output.ID, Name: saved.Output.Name}
	}
	return b
}

// remember stores d in *slot and writes the saved defaults to the store.
func (b *blackHole) remember(slot **switchDevice, d *switchDevice) {
	b.mu.Lock()
	*slot = d
	var saved SavedDefaults
	if b.savedInput != nil {
		saved.Input = &SavedDevice{ID: b.savedInput.ID, Name: b.savedInput.Name}
	}
	if b.savedOutput != nil {
		saved.Output = &SavedDevice{ID: b.savedOutput.ID, Name: b.savedOutput.Name}
	}
	b.mu.Unlock()
	persistSaved(b.store, saved)
}

func (b *blackHole) Platform() Platform { return b.platform }

func (b *blackHole) IsInstalled(ctx context.Context) bool {
	installed := false
	if devices, err := b.enumerator.Devices(ctx); err == nil {
		for _, d := range devices {
			if blackHolePattern.MatchString(d.Name) {
				installed = true
				break
			}
		}
	}
	if !installed {
		if _, err := b.find(ctx, "input"); err == nil {
			installed = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !installed {
		b.state = StateNotInstalled
	} else if b.state != StateRouted {
		b.state = StateInstalled
	}
	return installed
}

func (b *blackHole) Install(ctx context.Context) <-chan Progress {
	ch := make(chan Progress, 3)
	go func() {
		defer close(ch)
		if !b.IsInstalled(ctx) {
			send(ctx, ch, Progress{Message: "Please install the BlackHole virtual audio driver manually"})
			send(ctx, ch, Progress{Message: "Install instructions: " + BlackHoleInstallURL, Done: true, Err: ErrNotInstalled})
			return
		}
		send(ctx, ch, Progress{Message: "BlackHole is installed, switching the default input"})
		if err := b.RouteDefaultInput(ctx, true); err != nil {
			send(ctx, ch, Progress{Message: "Switching the default input failed; select BlackHole in System Settings", Done: true, Err: err})
			return
		}
		send(ctx, ch, Progress{Message: "Configuration complete", Done: true})
	}()
	return ch
}

// switcherInstalled reports whether SwitchAudioSource is on PATH.
func (b *blackHole) switcherInstalled(ctx context.Context) bool {
	_, err := run(ctx, b.runner, "which", switchAudioSource)
	return err == nil
}

// list returns the devices of kind ("input" or "output").
func (b *blackHole) list(ctx context.Context, kind string) ([]switchDevice, error) {
	out, err := run(ctx, b.runner, switchAudioSource, "-a", "-t", kind, "-f", "json")
	if err != nil {
		return nil, err
	}
	return parseSwitchDevices(out)
}

func (b *blackHole) current(ctx context.Context, kind string) (*switchDevice, error) {
	out, err := run(ctx, b.runner, switchAudioSource, "-c", "-t", kind, "-f", "json")
	if err != nil {
		return nil, err
	}
	devices, err := parseSwitchDevices(out)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no current %s device", ErrEndpointNotFound, kind)
	}
	return &devices[0], nil
}

func (b *blackHole) find(ctx context.Context, kind string) (*switchDevice, error) {
	devices, err := b.list(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if blackHolePattern.MatchString(devices[i].Name) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no BlackHole %s device", ErrEndpointNotFound, kind)
}

func (b *blackHole) set(ctx context.Context, kind, id string) error {
	_, err := run(ctx, b.runner, switchAudioSource, "-t", kind, "-i", id)
	return err
}

// parseSwitchDevices accepts a JSON array or one JSON object per line.
func parseSwitchDevices(out string) ([]switchDevice, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	if strings.HasPrefix(out, "[") {
		var devices []switchDevice
		if err := json.Unmarshal([]byte(out), &devices); err != nil {
			return nil, fmt.Errorf("parse device list: %w", err)
		}
		return devices, nil
	}
	var devices []switchDevice
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d switchDevice
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("parse device entry %q: %w", line, err)
		}
		devices = append(devices, d)
	}
	return devices, scanner.Err()
}

func (b *blackHole) route(ctx context.Context, kind string, saved **switchDevice) error {
	if !b.switcherInstalled(ctx) {
		return fmt.Errorf("%w: %s missing, run `brew install switchaudio-osx`", ErrCommandFailed, switchAudioSource)
	}
	target, err := b.find(ctx, kind)
	if err != nil {
		return err
	}

	b.mu.Lock()
	haveSaved := *saved != nil
	b.mu.Unlock()
	if !haveSaved {
		if cur, err := b.current(ctx, kind); err == nil && cur.ID != target.ID {
			b.remember(saved, cur)
			logrus.WithFields(logrus.Fields{
				"function": "blackHole.route",
				"kind":     kind,
				"previous": cur.Name,
			}).Info("Saved original default device")
		}
	}

	if err := b.set(ctx, kind, target.ID); err != nil {
		return fmt.Errorf("switch %s to %s: %w", kind, target.Name, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "blackHole.route",
		"kind":     kind,
		"device":   target.Name,
		"id":       target.ID,
	}).Info("Default device switched to BlackHole")
	return nil
}

func (b *blackHole) restore(ctx context.Context, kind string, saved **switchDevice) error {
	b.mu.Lock()
	device := *saved
	b.mu.Unlock()
	if device == nil {
		return nil
	}
	if cur, err := b.current(ctx, kind); err == nil && cur.ID == device.ID {
		b.remember(saved, nil)
		return nil
	}
	if err := b.set(ctx, kind, device.ID); err != nil {
		return fmt.Errorf("restore %s %s: %w", kind, device.Name, err)
	}
	b.remember(saved, nil)
	logrus.WithFields(logrus.Fields{
		"function": "blackHole.restore",
		"kind":     kind,
		"device":   device.Name,
	}).Info("Restored original default device")
	return nil
}

func (b *blackHole) RouteDefaultInput(ctx context.Context, enable bool) error {
	if !enable {
		err := b.restore(ctx, "input", &b.savedInput)
		if err == nil {
			b.mu.Lock()
			if b.state == StateRouted {
				b.state = StateInstalled
			}
			b.mu.Unlock()
		}
		return err
	}
	if err := b.route(ctx, "input", &b.savedInput); err != nil {
		return err
	}
	b.mu.Lock()
	b.state = StateRouted
	b.mu.Unlock()
	return nil
}

func (b *blackHole) RouteDefaultOutput(ctx context.Context, enable bool) error {
	if !enable {
		return b.restore(ctx, "output", &b.savedOutput)
	}
	return b.route(ctx, "output", &b.savedOutput)
}

// Cleanup restores the defaults that were switched. BlackHole itself is
// never removed.
func (b *blackHole) Cleanup(ctx context.Context) error {
	return errors.Join(
		b.RouteDefaultInput(ctx, false),
		b.RouteDefaultOutput(ctx, false),
	)
}

func (b *blackHole) Prepare(context.Context) (bool, error) { return false, nil }

func (b *blackHole) OutputTargets() []Target {
	return []Target{{Name: "blackhole", Virtual: true}}
}

// SharesDefaultEndpoint is true: with BlackHole as the default output the
// default device is the virtual route.
func (b *blackHole) SharesDefaultEndpoint() bool { return true }

func (b *blackHole) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
