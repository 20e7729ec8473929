package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// VB-Cable endpoint names. Applications record from the capture side;
// the output router plays into the playback side.
const (
	CableCaptureName  = "CABLE Output"
	CablePlaybackName = "CABLE Input"
)

// vbCable drives the VB-Audio Virtual Cable driver on Windows.
type vbCable struct {
	platform  Platform
	deps      Dependencies
	installer *installer

	mu    sync.Mutex
	state State
}

func newVBCable(platform Platform, deps Dependencies) *vbCable {
	return &vbCable{
		platform:  platform,
		deps:      deps,
		installer: newInstaller(deps),
	}
}

func (v *vbCable) Platform() Platform { return v.platform }

// IsInstalled checks the audio backend's device list first and falls back
// to the endpoints reported by the policy COM interface.
func (v *vbCable) IsInstalled(ctx context.Context) bool {
	installed := false
	if devices, err := v.deps.Enumerator.Devices(ctx); err == nil {
		installed = anyNameContains(devices, CableCaptureName, CablePlaybackName)
	}
	if !installed {
		_, err := v.findEndpoint(ctx, Capture, CableCaptureName)
		installed = err == nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !installed {
		v.state = StateNotInstalled
	} else if v.state != StateRouted {
		v.state = StateInstalled
	}
	return installed
}

func (v *vbCable) findEndpoint(ctx context.Context, dir Direction, name string) (Endpoint, error) {
	endpoints, err := v.deps.PolicyConfig.Endpoints(ctx, dir)
	if err != nil {
		return Endpoint{}, err
	}
	want := strings.ToLower(name)
	for _, ep := range endpoints {
		if strings.Contains(strings.ToLower(ep.Name), want) {
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
}

func (v *vbCable) Install(ctx context.Context) <-chan Progress {
	ch := make(chan Progress, 8)
	go func() {
		defer close(ch)
		if v.IsInstalled(ctx) {
			send(ctx, ch, Progress{Message: "VB-Cable is already installed, configuring"})
		} else {
			send(ctx, ch, Progress{Message: "Locating the VB-Cable installer"})
			path, cleanup, err := v.installer.locate(ctx, func(msg string) {
				send(ctx, ch, Progress{Message: msg})
			})
			if err != nil {
				send(ctx, ch, Progress{Message: "Could not obtain the VB-Cable installer", Done: true, Err: err})
				return
			}
			defer cleanup()

			send(ctx, ch, Progress{Message: "Running the installer, accept the elevation prompt"})
			if err := v.installer.run(ctx, path); err != nil {
				send(ctx, ch, Progress{Message: "The VB-Cable installer failed", Done: true, Err: err})
				return
			}
			send(ctx, ch, Progress{Message: "Verifying the installation"})
			if !v.IsInstalled(ctx) {
				send(ctx, ch, Progress{Message: "VB-Cable was not detected after installing, a reboot may be required",
					Done: true, Err: ErrNotInstalled})
				return
			}
		}

		send(ctx, ch, Progress{Message: "Setting CABLE Output as the default microphone"})
		if err := v.RouteDefaultInput(ctx, true); err != nil {
			send(ctx, ch, Progress{Message: "Installed, select CABLE Output as the default microphone manually", Done: true, Err: err})
			return
		}
		send(ctx, ch, Progress{Message: "Configuration complete", Done: true})
	}()
	return ch
}

// setDefault makes the named endpoint the default for every role.
func (v *vbCable) setDefault(ctx context.Context, dir Direction, name string) error {
	ep, err := v.findEndpoint(ctx, dir, name)
	if err != nil {
		return err
	}
	var errs []error
	for _, role := range AllRoles {
		if err := v.deps.PolicyConfig.SetDefaultEndpoint(ep.ID, role); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("set default %s: %w", name, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "vbCable.setDefault",
		"endpoint": ep.Name,
		"id":       ep.ID,
	}).Info("Default endpoint switched")
	return nil
}

// RouteDefaultInput cannot restore the previous default: Windows keeps no
// record of it and none is saved before switching.
func (v *vbCable) RouteDefaultInput(ctx context.Context, enable bool) error {
	if !enable {
		return ErrRestoreUnsupported
	}
	if err := v.setDefault(ctx, Capture, CableCaptureName); err != nil {
		return err
	}
	v.mu.Lock()
	v.state = StateRouted
	v.mu.Unlock()
	return nil
}

func (v *vbCable) RouteDefaultOutput(ctx context.Context, enable bool) error {
	if !enable {
		return ErrRestoreUnsupported
	}
	return v.setDefault(ctx, Playback, CablePlaybackName)
}

// Cleanup is a no-op: the driver is uninstalled manually.
func (v *vbCable) Cleanup(context.Context) error { return nil }

func (v *vbCable) Prepare(context.Context) (bool, error) { return false, nil }

func (v *vbCable) OutputTargets() []Target {
	return []Target{{Name: CablePlaybackName, Virtual: true}}
}

func (v *vbCable) SharesDefaultEndpoint() bool { return false }

func (v *vbCable) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
