package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/opd-ai/micbridge/device"
	"github.com/spf13/cobra"
)

func newInstallCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install or create the virtual audio device and make it the default input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bridge, _, _, err := newBridge(cmd, g)
			if err != nil {
				return err
			}
			defer bridge.Close(cmd.Context())

			out := cmd.OutOrStdout()
			for p := range bridge.Strategy().Install(cmd.Context()) {
				fmt.Fprintln(out, p.Message)
				if p.Done {
					return p.Err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("installer", "", "local VB-Cable installer or driver pack to use instead of downloading")
	return cmd
}

func newRouteCmd(g *globalFlags) *cobra.Command {
	var enable, disable, output bool
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Switch the default input to the virtual device or back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bridge, _, _, err := newBridge(cmd, g)
			if err != nil {
				return err
			}
			defer bridge.Close(cmd.Context())

			strategy := bridge.Strategy()
			if output {
				err = strategy.RouteDefaultOutput(cmd.Context(), enable)
			} else {
				err = strategy.RouteDefaultInput(cmd.Context(), enable)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Virtual device state: %s\n", strategy.State())
			return nil
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "make the virtual device the default")
	cmd.Flags().BoolVar(&disable, "disable", false, "restore the previous default")
	cmd.Flags().BoolVar(&output, "output", false, "route the default output instead of the default input")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.MarkFlagsOneRequired("enable", "disable")
	return cmd
}

func newCleanupCmd(g *globalFlags) *cobra.Command {
	var firewall bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the virtual device graph created by micbridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bridge, _, cfg, err := newBridge(cmd, g)
			if err != nil {
				return err
			}
			defer bridge.Close(cmd.Context())

			err = bridge.Strategy().Cleanup(cmd.Context())
			if firewall {
				err = errors.Join(err, device.RemoveFirewallRule(cmd.Context(), bridge.Platform(), device.ExecRunner{}, cfg.Server.Port))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleanup complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&firewall, "firewall", false, "also remove the inbound firewall rule (Windows)")
	return cmd
}

func newDevicesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices and the virtual device status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bridge, _, _, err := newBridge(cmd, g)
			if err != nil {
				return err
			}
			defer bridge.Close(cmd.Context())

			out := cmd.OutOrStdout()
			strategy := bridge.Strategy()
			fmt.Fprintf(out, "Platform: %s\n", bridge.Platform())
			fmt.Fprintf(out, "Virtual device installed: %t\n\n", strategy.IsInstalled(cmd.Context()))

			devices, err := bridge.Devices(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DIRECTION\tDEFAULT\tNAME")
			for _, d := range devices {
				def := ""
				if d.IsDefault {
					def = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Direction, def, d.Name)
			}
			return tw.Flush()
		},
	}
}
