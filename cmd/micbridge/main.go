package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/micbridge"
	"github.com/opd-ai/micbridge/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// flagKeys maps command-line flags to configuration keys. Flags override
// the config file and the environment when set.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"address":      "server.address",
	"port":         "server.port",
	"mode":         "server.mode",
	"bt-channel":   "server.bluetooth_channel",
	"sample-rate":  "server.sample_rate",
	"channels":     "server.channels",
	"format":       "server.format",
	"monitor":      "output.monitoring",
	"metrics-addr": "metrics.addr",
	"installer":    "device.installer_path",
	"route-input":  "device.route_input",
}

type globalFlags struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "micbridge",
		Short:         "Use an Android phone as this computer's microphone",
		Long:          `micbridge receives the MicYou audio stream over Wi-Fi, Bluetooth or USB and plays it into a virtual audio device that applications can record from.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default is ./micbridge.yaml or <user config dir>/micbridge/micbridge.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn or error")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newServeCmd(g),
		newInstallCmd(g),
		newRouteCmd(g),
		newCleanupCmd(g),
		newDevicesCmd(g),
		newAddressesCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the configuration with the command's flags bound on top
// and applies the log settings.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(g.configFile)
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := loader.BindFlag(key, flag); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := config.ApplyLogging(cfg.Log, cmd.ErrOrStderr()); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// newBridge loads the configuration and assembles a Bridge for it.
func newBridge(cmd *cobra.Command, g *globalFlags, opts ...micbridge.Option) (*micbridge.Bridge, *config.Loader, *config.Config, error) {
	loader, cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, nil, nil, err
	}
	bridge, err := micbridge.New(cmd.Context(), cfg, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return bridge, loader, cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
