package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/micbridge"
	"github.com/opd-ai/micbridge/config"
	"github.com/opd-ai/micbridge/observe"
	"github.com/opd-ai/micbridge/supervisor"
	"github.com/opd-ai/micbridge/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	d := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Wait for the phone and stream its microphone into the virtual device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, g)
		},
	}
	f := cmd.Flags()
	f.String("address", d.Server.Address, "address to listen on")
	f.Int("port", d.Server.Port, "TCP port to listen on (wifi and usb modes)")
	f.String("mode", d.Server.Mode, "connection mode: wifi, bluetooth or usb")
	f.Int("bt-channel", d.Server.BluetoothChannel, "RFCOMM channel (bluetooth mode)")
	f.Int("sample-rate", d.Server.SampleRate, "sample rate the phone is asked to send")
	f.Int("channels", d.Server.Channels, "channel count the phone is asked to send")
	f.String("format", d.Server.Format, "sample format: pcm16, pcm8 or float")
	f.Bool("monitor", d.Output.Monitoring, "also play the stream on the speakers when no virtual device is used")
	f.String("metrics-addr", d.Metrics.Addr, "serve Prometheus metrics on this address, e.g. :9464")
	f.Bool("route-input", d.Device.RouteInput, "make the virtual device the default input while serving and restore the original on exit")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	loader, cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}

	var opts []micbridge.Option
	if cfg.Metrics.Addr != "" {
		mp, shutdown, err := serveMetrics(ctx, cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		defer shutdown()
		opts = append(opts, micbridge.WithMeterProvider(mp))
	}

	bridge, err := micbridge.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := bridge.Close(sctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runServe",
				"error":    err.Error(),
			}).Warn("Shutdown finished with errors")
		}
	}()

	if loader.File() != "" {
		loader.Watch(func(next *config.Config) {
			if err := bridge.ApplyConfig(next); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "runServe",
					"error":    err.Error(),
				}).Warn("Could not apply reloaded configuration")
			}
		})
	}

	if err := bridge.Start(ctx); err != nil {
		return err
	}
	if mode, _ := transport.ParseMode(cfg.Server.Mode); mode == transport.ModeWiFi {
		printAddresses(cmd.OutOrStdout(), cfg.Server.Port)
	}

	return waitForStream(ctx, bridge.Supervisor())
}

// waitForStream logs state changes until ctx ends or the stream fails.
func waitForStream(ctx context.Context, sup *supervisor.Supervisor) error {
	states, cancel := sup.State().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-states:
			if state == supervisor.StateError {
				return fmt.Errorf("stream failed: %s", sup.LastError().Get())
			}
			logrus.WithFields(logrus.Fields{
				"function": "waitForStream",
				"state":    state.String(),
			}).Info("Stream state changed")
		}
	}
}

// serveMetrics installs the Prometheus-backed meter provider and serves
// /metrics on addr until the returned shutdown func runs.
func serveMetrics(ctx context.Context, addr string) (metric.MeterProvider, func(), error) {
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "micbridge",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.Handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"addr":     addr,
				"error":    err.Error(),
			}).Error("Metrics server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "serveMetrics",
		"addr":     ln.Addr().String(),
	}).Info("Serving metrics")

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
		_ = provider.Shutdown(sctx)
	}
	return provider.MeterProvider, shutdown, nil
}

func printAddresses(w io.Writer, port int) {
	addrs, err := transport.LocalAddresses()
	if err != nil || len(addrs) == 0 {
		fmt.Fprintf(w, "Listening on port %d\n", port)
		return
	}
	fmt.Fprintln(w, "Enter one of these addresses in the phone app:")
	for _, a := range addrs {
		fmt.Fprintf(w, "  %s:%d (%s)\n", a.IP, port, a.Interface)
	}
}
