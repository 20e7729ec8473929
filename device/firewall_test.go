package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var windowsHost = Platform{OS: OSWindows}

func TestEnsureFirewallRuleSkipsOtherPlatforms(t *testing.T) {
	r := newFakeRunner()
	require.NoError(t, EnsureFirewallRule(context.Background(), Platform{OS: OSLinux}, r, 6000))
	require.NoError(t, RemoveFirewallRule(context.Background(), Platform{OS: OSMacOS}, r, 6000))
	assert.Empty(t, r.recorded())
}

func TestEnsureFirewallRuleExisting(t *testing.T) {
	r := newFakeRunner()
	r.on("powershell -Command netsh", "Rule Name: MicYou-6000", nil)
	require.NoError(t, EnsureFirewallRule(context.Background(), windowsHost, r, 6000))
	assert.False(t, r.called("powershell -Command New-NetFirewallRule"))
}

func TestEnsureFirewallRuleAdds(t *testing.T) {
	r := newFakeRunner()
	require.NoError(t, EnsureFirewallRule(context.Background(), windowsHost, r, 6000))
	assert.True(t, r.called(`powershell -Command New-NetFirewallRule -DisplayName "MicYou-6000" -Direction Inbound -LocalPort 6000 -Protocol TCP -Action Allow`))
	assert.False(t, r.called("netsh"))
}

func TestEnsureFirewallRuleFallsBackToNetsh(t *testing.T) {
	r := newFakeRunner()
	r.on("powershell -Command New-NetFirewallRule", "Access is denied.", errExit)
	require.NoError(t, EnsureFirewallRule(context.Background(), windowsHost, r, 6000))
	assert.True(t, r.called("netsh advfirewall firewall add rule name=MicYou-6000 dir=in action=allow protocol=TCP localport=6000"))

	r.on("netsh advfirewall firewall add", "The requested operation requires elevation.", errExit)
	assert.ErrorIs(t, EnsureFirewallRule(context.Background(), windowsHost, r, 6000), ErrCommandFailed)
}

func TestEnsureFirewallRuleInvalidPort(t *testing.T) {
	assert.Error(t, EnsureFirewallRule(context.Background(), windowsHost, newFakeRunner(), 0))
	assert.Error(t, EnsureFirewallRule(context.Background(), windowsHost, newFakeRunner(), 70000))
}

func TestRemoveFirewallRule(t *testing.T) {
	r := newFakeRunner()
	require.NoError(t, RemoveFirewallRule(context.Background(), windowsHost, r, 6000))
	assert.Equal(t, []string{"powershell -Command Remove-NetFirewallRule -DisplayName 'MicYou-6000'"}, r.recorded())
}
