//go:build !windows

package device

import "context"

type unsupportedPolicy struct{}

// NewPolicyConfig returns a PolicyConfig that reports ErrUnsupportedPlatform
// on hosts without the Windows policy interface.
func NewPolicyConfig() PolicyConfig {
	return unsupportedPolicy{}
}

func (unsupportedPolicy) Endpoints(context.Context, Direction) ([]Endpoint, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedPolicy) SetDefaultEndpoint(string, Role) error {
	return ErrUnsupportedPlatform
}
