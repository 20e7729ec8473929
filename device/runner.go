package device

import (
	"context"
	"os/exec"
	"strings"
)

// Runner executes external programs and returns their combined output.
// transport.ADBTunnel accepts the same interface.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns stdout and stderr combined.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// run executes a command and reports failure with the tool's output attached.
func run(ctx context.Context, r Runner, name string, args ...string) (string, error) {
	out, err := r.Run(ctx, name, args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text == "" {
			return text, &CommandError{Command: name, Args: args, Err: err}
		}
		return text, &CommandError{Command: name, Args: args, Output: text, Err: err}
	}
	return text, nil
}

// CommandError describes a failed external command.
type CommandError struct {
	Command string
	Args    []string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := e.Command + " " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap lets errors.Is match both ErrCommandFailed and the exec error.
func (e *CommandError) Unwrap() []error {
	return []error{ErrCommandFailed, e.Err}
}
