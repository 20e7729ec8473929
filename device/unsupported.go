package device

import "context"

// unsupported reports ErrUnsupportedPlatform for every operation.
type unsupported struct {
	platform Platform
}

func (u unsupported) Platform() Platform { return u.platform }

func (unsupported) IsInstalled(context.Context) bool { return false }

func (unsupported) Install(context.Context) <-chan Progress {
	ch := make(chan Progress, 1)
	ch <- Progress{Message: "Virtual audio devices are not supported on this platform", Done: true, Err: ErrUnsupportedPlatform}
	close(ch)
	return ch
}

func (unsupported) RouteDefaultInput(context.Context, bool) error  { return ErrUnsupportedPlatform }
func (unsupported) RouteDefaultOutput(context.Context, bool) error { return ErrUnsupportedPlatform }
func (unsupported) Cleanup(context.Context) error                  { return nil }
func (unsupported) Prepare(context.Context) (bool, error)          { return false, nil }
func (unsupported) OutputTargets() []Target                        { return nil }
func (unsupported) SharesDefaultEndpoint() bool                    { return false }
func (unsupported) State() State                                   { return StateNotInstalled }
