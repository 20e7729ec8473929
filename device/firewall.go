package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// FirewallRuleName is the inbound rule name for port.
func FirewallRuleName(port int) string {
	return fmt.Sprintf("MicYou-%d", port)
}

// EnsureFirewallRule allows inbound TCP on port. Only Windows needs a rule;
// other platforms return nil without running anything.
func EnsureFirewallRule(ctx context.Context, platform Platform, r Runner, port int) error {
	if platform.OS != OSWindows {
		return nil
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	name := FirewallRuleName(port)
	if firewallRuleExists(ctx, r, name) {
		return nil
	}

	add := fmt.Sprintf(`New-NetFirewallRule -DisplayName "%s" -Direction Inbound -LocalPort %d -Protocol TCP -Action Allow`, name, port)
	if _, err := run(ctx, r, "powershell", "-Command", add); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EnsureFirewallRule",
			"rule":     name,
			"error":    err.Error(),
		}).Warn("New-NetFirewallRule failed, trying netsh")
		if _, err := run(ctx, r, "netsh", "advfirewall", "firewall", "add", "rule",
			"name="+name, "dir=in", "action=allow", "protocol=TCP", fmt.Sprintf("localport=%d", port)); err != nil {
			return fmt.Errorf("add firewall rule %s: %w", name, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "EnsureFirewallRule",
		"rule":     name,
	}).Info("Firewall rule added")
	return nil
}

// RemoveFirewallRule deletes the rule added by EnsureFirewallRule.
func RemoveFirewallRule(ctx context.Context, platform Platform, r Runner, port int) error {
	if platform.OS != OSWindows {
		return nil
	}
	name := FirewallRuleName(port)
	if _, err := run(ctx, r, "powershell", "-Command", fmt.Sprintf("Remove-NetFirewallRule -DisplayName '%s'", name)); err != nil {
		return fmt.Errorf("remove firewall rule %s: %w", name, err)
	}
	return nil
}

func firewallRuleExists(ctx context.Context, r Runner, name string) bool {
	out, err := run(ctx, r, "powershell", "-Command",
		fmt.Sprintf("netsh advfirewall firewall show rule name=all | Select-String '%s'", name))
	return err == nil && strings.Contains(out, name)
}
