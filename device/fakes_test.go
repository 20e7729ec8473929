package device

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type fakeResponse struct {
	out string
	err error
}

// fakeRunner answers commands by the longest registered prefix of the
// command line. Unregistered commands succeed with no output.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
	hook      func(line string)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]fakeResponse)}
}

func (f *fakeRunner) on(prefix, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = fakeResponse{out: out, err: err}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	f.calls = append(f.calls, line)
	best := ""
	resp := fakeResponse{}
	for prefix, r := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best, resp = prefix, r
		}
	}
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(line)
	}
	return []byte(resp.out), resp.err
}

func (f *fakeRunner) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// called reports whether some recorded call starts with prefix.
func (f *fakeRunner) called(prefix string) bool {
	for _, c := range f.recorded() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

var errExit = errors.New("exit status 1")

type fakeEnumerator struct {
	devices []Info
	err     error
}

func (f fakeEnumerator) Devices(context.Context) ([]Info, error) {
	return f.devices, f.err
}

type setCall struct {
	id   string
	role Role
}

type fakePolicy struct {
	mu        sync.Mutex
	endpoints map[Direction][]Endpoint
	sets      []setCall
	setErr    error
}

func (f *fakePolicy) Endpoints(_ context.Context, dir Direction) ([]Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[dir], nil
}

func (f *fakePolicy) SetDefaultEndpoint(id string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets = append(f.sets, setCall{id: id, role: role})
	return nil
}

func (f *fakePolicy) install() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = map[Direction][]Endpoint{
		Capture:  {{ID: "{0.0.1.00000000}.{cable-out}", Name: "CABLE Output (VB-Audio Virtual Cable)", Direction: Capture}},
		Playback: {{ID: "{0.0.0.00000000}.{cable-in}", Name: "CABLE Input (VB-Audio Virtual Cable)", Direction: Playback}},
	}
}

// drain collects every progress event until the channel closes.
func drain(ch <-chan Progress) []Progress {
	var events []Progress
	for p := range ch {
		events = append(events, p)
	}
	return events
}
