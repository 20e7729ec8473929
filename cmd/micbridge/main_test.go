package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/micbridge/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "micbridge v"+version+"\n", out)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "micbridge.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)
}

func TestConfigInitDefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "config", "init")
	require.NoError(t, err)
	_, err = os.Stat("micbridge.yaml")
	assert.NoError(t, err)
}

func TestRouteRequiresDirection(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "route")
	require.Error(t, err)

	_, err = execute(t, "route", "--enable", "--disable")
	require.Error(t, err)
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("micbridge.yaml", []byte("server:\n  port: 7000\n  mode: usb\n"), 0o644))

	var got *config.Config
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	serve.RunE = func(cmd *cobra.Command, _ []string) error {
		_, cfg, err := loadConfig(cmd, &globalFlags{})
		got = cfg
		return err
	}
	root.SetArgs([]string{"serve", "--port", "7100", "--monitor", "--route-input", "--log-level", "debug"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())

	require.NotNil(t, got)
	assert.Equal(t, 7100, got.Server.Port)
	assert.Equal(t, "usb", got.Server.Mode)
	assert.True(t, got.Output.Monitoring)
	assert.True(t, got.Device.RouteInput)
	assert.Equal(t, "debug", got.Log.Level)
	assert.Equal(t, config.Default().Server.SampleRate, got.Server.SampleRate)
}

func TestFlagKeysNameRealFlags(t *testing.T) {
	root := newRootCmd()
	known := map[string]bool{}
	for _, c := range append(root.Commands(), root) {
		c.Flags().VisitAll(func(f *pflag.Flag) { known[f.Name] = true })
		c.PersistentFlags().VisitAll(func(f *pflag.Flag) { known[f.Name] = true })
	}
	for name := range flagKeys {
		assert.True(t, known[name], "flag %q is not defined by any command", name)
	}
}
