// Package config loads micbridge settings from a YAML file, MICBRIDGE_*
// environment variables and command-line flags, and reloads the pipeline
// section when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/opd-ai/micbridge/audio"
	"github.com/opd-ai/micbridge/pcm"
	"github.com/opd-ai/micbridge/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file name searched for without an extension.
const FileName = "micbridge"

// DefaultPort is the port the Android sender connects to.
const DefaultPort = 6000

// ErrInvalid indicates a setting outside its allowed range
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete micbridge configuration.
type Config struct {
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Pipeline audio.Config  `mapstructure:"pipeline" yaml:"pipeline"`
	Output   OutputConfig  `mapstructure:"output" yaml:"output"`
	Device   DeviceConfig  `mapstructure:"device" yaml:"device"`
	Log      LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig describes the listener and the stream format the sender is
// expected to use.
type ServerConfig struct {
	Address          string `mapstructure:"address" yaml:"address"`
	Port             int    `mapstructure:"port" yaml:"port"`
	Mode             string `mapstructure:"mode" yaml:"mode"`
	BluetoothChannel int    `mapstructure:"bluetooth_channel" yaml:"bluetooth_channel"`
	SampleRate       int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels         int    `mapstructure:"channels" yaml:"channels"`
	Format           string `mapstructure:"format" yaml:"format"`
}

// OutputConfig controls local playback.
type OutputConfig struct {
	// Monitoring plays the stream on a regular output device as well.
	Monitoring bool `mapstructure:"monitoring" yaml:"monitoring"`
}

// DeviceConfig locates driver installers and model files and controls
// default-input routing.
type DeviceConfig struct {
	InstallerPath string `mapstructure:"installer_path" yaml:"installer_path"`
	DownloadURL   string `mapstructure:"download_url" yaml:"download_url"`
	// StateFile records the replaced default devices so a later run can
	// restore them. Empty uses <user config dir>/micbridge/defaults.yaml.
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
	// RouteInput makes serve switch the default input to the virtual
	// device while it runs and restore the original on exit.
	RouteInput bool              `mapstructure:"route_input" yaml:"route_input"`
	Model      audio.ModelConfig `mapstructure:"model" yaml:"model"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:          "0.0.0.0",
			Port:             DefaultPort,
			Mode:             transport.ModeWiFi.String(),
			BluetoothChannel: 6,
			SampleRate:       48000,
			Channels:         1,
			Format:           pcm.FormatPCM16.String(),
		},
		Pipeline: audio.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every section and returns all violations joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server.port %d outside 1-65535", ErrInvalid, c.Server.Port))
	}
	if _, err := transport.ParseMode(c.Server.Mode); err != nil {
		errs = append(errs, fmt.Errorf("%w: server.mode: %v", ErrInvalid, err))
	}
	if c.Server.BluetoothChannel < 1 || c.Server.BluetoothChannel > 30 {
		errs = append(errs, fmt.Errorf("%w: server.bluetooth_channel %d outside 1-30", ErrInvalid, c.Server.BluetoothChannel))
	}
	if c.Server.SampleRate < 8000 || c.Server.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("%w: server.sample_rate %d outside 8000-192000", ErrInvalid, c.Server.SampleRate))
	}
	if c.Server.Channels < 1 || c.Server.Channels > 2 {
		errs = append(errs, fmt.Errorf("%w: server.channels %d must be 1 or 2", ErrInvalid, c.Server.Channels))
	}
	if _, err := pcm.ParseFormat(c.Server.Format); err != nil {
		errs = append(errs, fmt.Errorf("%w: server.format: %v", ErrInvalid, err))
	}
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log.level: %v", ErrInvalid, err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format))
	}
	return errors.Join(errs...)
}

// Loader reads configuration through a private viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty path searches the working
// directory and the user config directory for micbridge.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, FileName))
		}
	}
	v.SetEnvPrefix("MICBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return &Loader{v: v}
}

// setDefaults registers every key so environment variables and flags can
// override keys absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.bluetooth_channel", d.Server.BluetoothChannel)
	v.SetDefault("server.sample_rate", d.Server.SampleRate)
	v.SetDefault("server.channels", d.Server.Channels)
	v.SetDefault("server.format", d.Server.Format)

	v.SetDefault("pipeline.noise_suppression", d.Pipeline.NoiseSuppression)
	v.SetDefault("pipeline.noise_algorithm", string(d.Pipeline.NoiseAlgorithm))
	v.SetDefault("pipeline.agc", d.Pipeline.AGC)
	v.SetDefault("pipeline.agc_target", d.Pipeline.AGCTarget)
	v.SetDefault("pipeline.vad", d.Pipeline.VAD)
	v.SetDefault("pipeline.vad_threshold", d.Pipeline.VADThreshold)
	v.SetDefault("pipeline.dereverb", d.Pipeline.Dereverb)
	v.SetDefault("pipeline.dereverb_level", d.Pipeline.DereverbLevel)
	v.SetDefault("pipeline.amplification", d.Pipeline.Amplification)

	v.SetDefault("output.monitoring", d.Output.Monitoring)

	v.SetDefault("device.installer_path", d.Device.InstallerPath)
	v.SetDefault("device.download_url", d.Device.DownloadURL)
	v.SetDefault("device.state_file", d.Device.StateFile)
	v.SetDefault("device.route_input", d.Device.RouteInput)
	v.SetDefault("device.model.model_path", d.Device.Model.ModelPath)
	v.SetDefault("device.model.runtime_path", d.Device.Model.RuntimePath)
	v.SetDefault("device.model.input_name", d.Device.Model.InputName)
	v.SetDefault("device.model.output_name", d.Device.Model.OutputName)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// BindFlag makes a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the file if one exists and returns the merged, validated
// configuration. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Loader.Load",
		}).Debug("No config file found, using defaults")
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// File returns the config file in use, or "" when none was read.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration whenever the config
// file is written. Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Loader.Watch",
				"file":     e.Name,
				"error":    err.Error(),
			}).Warn("Ignoring invalid config change")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Loader.Watch",
			"file":     e.Name,
		}).Info("Configuration reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
