package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mpuview/mpuview/internal/config"
	"github.com/mpuview/mpuview/internal/devicesim"
	"github.com/mpuview/mpuview/internal/logging"
)

const (
	modeWebSocket = "websocket"
	modeTCP       = "tcp"

	shutdownTimeout   = 2 * time.Second
	readHeaderTimeout = 5 * time.Second
)

type options struct {
	listen   string
	mode     string
	path     string
	interval time.Duration
	legacy   bool
	logLevel string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("run mpusim", "error", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("mpusim", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.listen, "listen", "127.0.0.1:8080", "listen address")
	fs.StringVar(&opts.mode, "mode", modeWebSocket, "stream mode: websocket or tcp")
	fs.StringVar(&opts.path, "path", config.DefaultStreamPath, "websocket stream path")
	fs.DurationVar(&opts.interval, "interval", devicesim.DefaultInterval, "time per sample")
	fs.BoolVar(&opts.legacy, "legacy", false, "send frames in the firmware's array shape")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	opts.mode = strings.ToLower(strings.TrimSpace(opts.mode))
	switch opts.mode {
	case modeWebSocket, modeTCP:
	default:
		return options{}, fmt.Errorf("unknown mode: %s", opts.mode)
	}
	if !strings.HasPrefix(opts.path, "/") {
		return options{}, fmt.Errorf("stream path must start with '/': %q", opts.path)
	}
	if opts.interval <= 0 {
		return options{}, errors.New("interval must be positive")
	}

	return opts, nil
}

func run(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logMgr := logging.NewManager()
	if err := logMgr.Configure(config.LoggingConfig{Level: opts.logLevel, Format: config.LogFormatText}, ""); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logMgr.Close() }()
	logger := logMgr.Logger("sim")

	sim := devicesim.New(logMgr.Logger("device"), devicesim.Options{
		Interval: opts.interval,
		Legacy:   opts.legacy,
	})
	go logApplied(ctx, sim, logger)

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("simulator listening", "mode", opts.mode, "addr", ln.Addr().String(), "path", opts.path, "interval", opts.interval)

	if opts.mode == modeTCP {
		return serveTCP(ctx, sim, ln)
	}

	return serveWebSocket(ctx, sim, ln, opts.path)
}

func serveTCP(ctx context.Context, sim *devicesim.Simulator, ln net.Listener) error {
	if err := sim.ServeTCP(ctx, ln); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

func serveWebSocket(ctx context.Context, sim *devicesim.Simulator, ln net.Listener, path string) error {
	srv := &http.Server{
		Handler:           sim.Handler(path),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func logApplied(ctx context.Context, sim *devicesim.Simulator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sim.Changed():
			cfg := sim.Config()
			logger.Info(
				"device config applied",
				"accelerometer_range", cfg.AccelerometerRange,
				"gyro_range", cfg.GyroRange,
				"filter_band", cfg.FilterBand,
				"delay_samples", cfg.DelaySamples,
			)
		}
	}
}
