package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrADBNotFound indicates no adb executable could be located
	ErrADBNotFound = errors.New("adb not found")
	// ErrReverseFailed indicates adb reverse did not establish the tunnel
	ErrReverseFailed = errors.New("adb reverse failed")
)

// CommandRunner executes an external program and returns its combined output.
// device.ExecRunner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ADBTunnel forwards a TCP port from a USB-attached Android device to the
// host with "adb reverse".
type ADBTunnel struct {
	runner CommandRunner
	// lookPath and stat are replaceable for tests.
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	getenv   func(string) string
	goos     string

	mu   sync.Mutex
	path string
}

// NewADBTunnel creates a tunnel helper that runs commands through runner.
func NewADBTunnel(runner CommandRunner) *ADBTunnel {
	return &ADBTunnel{
		runner:   runner,
		lookPath: exec.LookPath,
		stat:     os.Stat,
		getenv:   os.Getenv,
		goos:     runtime.GOOS,
	}
}

// candidatePaths lists SDK locations checked when adb is not on PATH.
func (t *ADBTunnel) candidatePaths() []string {
	if t.goos == "windows" {
		return []string{
			filepath.Join(t.getenv("LOCALAPPDATA"), "Android", "Sdk", "platform-tools", "adb.exe"),
			filepath.Join(t.getenv("USERPROFILE"), "AppData", "Local", "Android", "Sdk", "platform-tools", "adb.exe"),
			`C:\Android\sdk\platform-tools\adb.exe`,
		}
	}
	paths := []string{
		filepath.Join(t.getenv("HOME"), "Android", "Sdk", "platform-tools", "adb"),
		"/usr/bin/adb",
		"/usr/local/bin/adb",
		"/opt/android-sdk/platform-tools/adb",
	}
	if t.goos == "darwin" {
		paths = append(paths,
			filepath.Join(t.getenv("HOME"), "Library", "Android", "sdk", "platform-tools", "adb"),
			"/opt/homebrew/bin/adb",
		)
	}
	return paths
}

// Find locates the adb executable, caching the result while it still exists.
func (t *ADBTunnel) Find() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.path != "" {
		if _, err := t.stat(t.path); err == nil {
			return t.path, nil
		}
		t.path = ""
	}

	name := "adb"
	if t.goos == "windows" {
		name = "adb.exe"
	}
	if p, err := t.lookPath(name); err == nil {
		t.path = p
		return p, nil
	}

	for _, p := range t.candidatePaths() {
		if _, err := t.stat(p); err == nil {
			t.path = p
			logrus.WithFields(logrus.Fields{
				"function": "ADBTunnel.Find",
				"path":     p,
			}).Info("Found adb outside PATH")
			return p, nil
		}
	}
	return "", ErrADBNotFound
}

// Reverse runs "adb reverse tcp:port tcp:port". The command fails when adb
// exits non-zero or prints an error.
func (t *ADBTunnel) Reverse(ctx context.Context, port int) error {
	adb, err := t.Find()
	if err != nil {
		return err
	}

	spec := fmt.Sprintf("tcp:%d", port)
	out, err := t.runner.Run(ctx, adb, "reverse", spec, spec)
	output := strings.TrimSpace(string(out))
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrReverseFailed, err, output)
	}
	if strings.Contains(strings.ToLower(output), "error") {
		return fmt.Errorf("%w: %s", ErrReverseFailed, output)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ADBTunnel.Reverse",
		"port":     port,
	}).Info("adb reverse established")
	return nil
}

// Version returns the first line of "adb version".
func (t *ADBTunnel) Version(ctx context.Context) (string, error) {
	adb, err := t.Find()
	if err != nil {
		return "", err
	}
	out, err := t.runner.Run(ctx, adb, "version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// ReverseGuidance is shown to the user when Reverse fails.
func ReverseGuidance(port int) string {
	return fmt.Sprintf("adb reverse failed. Make sure adb is installed and the Android device is connected with USB debugging enabled, "+
		"or run manually: adb reverse tcp:%d tcp:%d", port, port)
}
