package device

import (
	"context"
	"strings"
)

// Direction is the data flow of an audio device.
type Direction int

const (
	// Playback devices render audio.
	Playback Direction = iota
	// Capture devices record audio.
	Capture
)

// String returns "playback" or "capture".
func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Info describes one enumerated audio device.
type Info struct {
	ID        string
	Name      string
	Direction Direction
	IsDefault bool
}

// Enumerator lists the audio devices visible to the host audio stack.
// The output package's malgo backend satisfies it.
type Enumerator interface {
	Devices(ctx context.Context) ([]Info, error)
}

type noEnumerator struct{}

func (noEnumerator) Devices(context.Context) ([]Info, error) {
	return nil, nil
}

// anyNameContains reports whether a device name contains one of needles,
// ignoring case.
func anyNameContains(devices []Info, needles ...string) bool {
	for _, d := range devices {
		name := strings.ToLower(d.Name)
		for _, n := range needles {
			if strings.Contains(name, strings.ToLower(n)) {
				return true
			}
		}
	}
	return false
}
