package device

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrUnsupportedPlatform indicates the host has no virtual device strategy
	ErrUnsupportedPlatform = errors.New("virtual audio device not supported on this platform")
	// ErrRestoreUnsupported indicates the previous default cannot be restored
	ErrRestoreUnsupported = errors.New("restoring the previous default device is not supported")
	// ErrNotInstalled indicates the virtual device is absent
	ErrNotInstalled = errors.New("virtual audio device not installed")
	// ErrCommandFailed indicates an external tool exited with an error
	ErrCommandFailed = errors.New("device command failed")
	// ErrInstallerNotFound indicates no installer could be located or downloaded
	ErrInstallerNotFound = errors.New("virtual device installer not found")
	// ErrEndpointNotFound indicates no endpoint matched the wanted name
	ErrEndpointNotFound = errors.New("audio endpoint not found")
)

// State is the last known condition of the virtual device.
type State int

const (
	// StateUnknown means nothing has been checked yet.
	StateUnknown State = iota
	// StateNotInstalled means the device is absent.
	StateNotInstalled
	// StateInstalled means the device exists but is not the default input.
	StateInstalled
	// StateRouted means the device is the default input.
	StateRouted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateNotInstalled:
		return "not-installed"
	case StateInstalled:
		return "installed"
	case StateRouted:
		return "routed"
	default:
		return "unknown"
	}
}

// Progress is one step of an installation. The channel returned by Install
// is closed after the event with Done set.
type Progress struct {
	Message string
	Done    bool
	Err     error
}

// Target names an output device the router should try, matched as a
// case-insensitive substring of the enumerated device name.
type Target struct {
	Name    string
	Virtual bool
}

// Strategy is the per-OS virtual device lifecycle.
type Strategy interface {
	// Platform returns the platform the strategy was built for.
	Platform() Platform
	// IsInstalled reports whether the virtual device exists.
	IsInstalled(ctx context.Context) bool
	// Install creates or installs the device and routes the default input
	// to it. Progress is streamed on the returned channel.
	Install(ctx context.Context) <-chan Progress
	// RouteDefaultInput makes the virtual device the default input, or
	// restores the previous default when enable is false.
	RouteDefaultInput(ctx context.Context, enable bool) error
	// RouteDefaultOutput makes the virtual playback endpoint the default
	// output, or restores the previous default when enable is false.
	RouteDefaultOutput(ctx context.Context, enable bool) error
	// Cleanup removes anything the strategy created.
	Cleanup(ctx context.Context) error
	// Prepare readies the device before the output router opens it. It
	// reports whether it created anything the caller should clean up.
	Prepare(ctx context.Context) (created bool, err error)
	// OutputTargets lists playback devices to try, most preferred first.
	OutputTargets() []Target
	// SharesDefaultEndpoint reports whether audio written to the system
	// default output still reaches the virtual microphone.
	SharesDefaultEndpoint() bool
	// State returns the last known device state.
	State() State
}

// Dependencies are the collaborators a Strategy needs.
type Dependencies struct {
	Runner       Runner
	Enumerator   Enumerator
	HTTPClient   *http.Client
	PolicyConfig PolicyConfig
	// InstallerPath is a local VB-Cable installer to prefer over downloading.
	InstallerPath string
	// DownloadURL overrides the VB-Cable driver pack location.
	DownloadURL string
	// Store keeps the replaced default devices. Defaults to memory only.
	Store DefaultsStore
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.Enumerator == nil {
		d.Enumerator = noEnumerator{}
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.PolicyConfig == nil {
		d.PolicyConfig = NewPolicyConfig()
	}
	if d.DownloadURL == "" {
		d.DownloadURL = DefaultDriverPackURL
	}
	return d
}

// NewStrategy returns the strategy for platform.
func NewStrategy(platform Platform, deps Dependencies) Strategy {
	deps = deps.withDefaults()
	switch platform.OS {
	case OSWindows:
		return newVBCable(platform, deps)
	case OSLinux:
		return newPipeWire(platform, deps)
	case OSMacOS:
		return newBlackHole(platform, deps)
	default:
		return unsupported{platform: platform}
	}
}

// send delivers p unless ctx is done.
func send(ctx context.Context, ch chan<- Progress, p Progress) {
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}
