package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mpuview/mpuview/internal/app"
	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/config"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/display"
	"github.com/mpuview/mpuview/internal/logging"
)

const (
	applyTimeout      = 5 * time.Second
	maxRawPreviewLen  = 96
	journalTimeLayout = time.RFC3339
)

type options struct {
	configDir string

	connector string
	host      string
	port      int
	path      string
	serial    string
	baud      int

	logLevel  string
	logFormat string

	accelRange string
	gyroRange  string
	filterBand string
	delay      string
	apply      bool

	listenFor    time.Duration
	noReconnect  bool
	raw          bool
	showJournal  bool
	clearJournal bool
	version      bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("run mpuview", "error", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("mpuview", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.configDir, "config-dir", "", "directory for config.json, app.db and app.log (default: user config dir)")
	fs.StringVar(&opts.connector, "connector", "", "connector type: websocket, tcp or serial")
	fs.StringVar(&opts.host, "host", "", "device ip/hostname")
	fs.IntVar(&opts.port, "port", 0, "device port (default 80)")
	fs.StringVar(&opts.path, "path", "", "stream path (default /stream)")
	fs.StringVar(&opts.serial, "serial", "", "serial port, e.g. /dev/ttyUSB0 or COM3")
	fs.IntVar(&opts.baud, "baud", 0, "serial baud rate (default 115200)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	fs.StringVar(&opts.accelRange, "accel-range", "", "accelerometer range: 2g, 4g, 8g or 16g")
	fs.StringVar(&opts.gyroRange, "gyro-range", "", "gyroscope range: 250dps, 500dps, 1000dps or 2000dps")
	fs.StringVar(&opts.filterBand, "filter-band", "", "low-pass filter band: 260Hz, 184Hz, 94Hz, 44Hz, 20Hz, 10Hz or 5Hz")
	fs.StringVar(&opts.delay, "delay", "", "samples to skip between frames")
	fs.BoolVar(&opts.apply, "apply", false, "send the device settings every time the session opens")
	fs.DurationVar(&opts.listenFor, "listen-for", 0, "listen duration, e.g. 30s (default: until interrupt)")
	fs.BoolVar(&opts.noReconnect, "no-reconnect", false, "do not reopen the session after it drops")
	fs.BoolVar(&opts.raw, "raw", false, "log raw inbound and outbound payloads")
	fs.BoolVar(&opts.showJournal, "journal", false, "print recently applied device settings and exit")
	fs.BoolVar(&opts.clearJournal, "clear-journal", false, "delete the applied settings journal and exit")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.logLevel != "" {
		if _, err := logging.ParseLevel(opts.logLevel); err != nil {
			return options{}, err
		}
	}
	if opts.showJournal && opts.clearJournal {
		return options{}, errors.New("-journal and -clear-journal are mutually exclusive")
	}

	return opts, nil
}

// override applies command line values on top of the loaded config.
func (o options) override(cfg *config.AppConfig) {
	if o.connector != "" {
		cfg.Connection.Connector = config.ConnectorType(strings.ToLower(strings.TrimSpace(o.connector)))
	}
	if host := strings.TrimSpace(o.host); host != "" {
		cfg.Connection.Host = host
	}
	if o.port > 0 {
		cfg.Connection.Port = o.port
	}
	if o.path != "" {
		cfg.Connection.Path = o.path
	}
	if port := strings.TrimSpace(o.serial); port != "" {
		cfg.Connection.SerialPort = port
		if o.connector == "" {
			cfg.Connection.Connector = config.ConnectorSerial
		}
	}
	if o.baud > 0 {
		cfg.Connection.SerialBaud = o.baud
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = config.LogFormat(o.logFormat)
	}
	if o.noReconnect {
		cfg.Reconnect.Enabled = false
	}
	if o.showJournal || o.clearJournal {
		// Journal commands never dial; a stored host is not required.
		if strings.TrimSpace(cfg.Connection.Host) == "" && cfg.Connection.Connector != config.ConnectorSerial {
			cfg.Connection.Host = "localhost"
		}
	}
}

func (o options) settingsInput() app.SettingsInput {
	return app.SettingsInput{
		AccelerometerRange: o.accelRange,
		GyroRange:          o.gyroRange,
		FilterBand:         o.filterBand,
		Delay:              o.delay,
	}
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if opts.version {
		_, _ = fmt.Fprintln(stdout, app.Name, app.BuildVersion())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{RootDir: opts.configDir, Override: opts.override})
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()
	logger := rt.LogManager.Logger("cli")

	switch {
	case opts.showJournal:
		return printJournal(ctx, rt, stdout)
	case opts.clearJournal:
		return rt.ClearJournal(ctx)
	}

	if opts.apply {
		current := rt.DeviceDefaults()
		if _, err := app.ParseDeviceConfig(opts.settingsInput(), current); err != nil {
			return fmt.Errorf("device settings: %w", err)
		}
		applyOnOpen(rt, logger, opts.settingsInput())
	}
	display.NewRenderer(stdout).Start(rt.Ctx, rt.Bus)
	if opts.raw {
		watchRaw(rt.Ctx, rt.Bus, logger)
	}

	cfg := rt.CurrentConfig()
	logger.Info(
		"connecting",
		"transport", app.TransportNameFromConnector(cfg.Connection.Connector),
		"target", app.ConnectionTarget(cfg.Connection),
		"reconnect", cfg.Reconnect.Enabled,
	)
	if err := rt.Connect(); err != nil {
		if !cfg.Reconnect.Enabled {
			return fmt.Errorf("connect: %w", err)
		}
		logger.Warn("initial connect failed, will retry", "error", err)
	}

	if opts.listenFor > 0 {
		logger.Info("listen mode", "duration", opts.listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(opts.listenFor):
		}
		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

// applyOnOpen sends the requested settings each time the session opens; the
// device forgets them on reboot.
func applyOnOpen(rt *app.Runtime, logger *slog.Logger, in app.SettingsInput) {
	bus.Listen(rt.Ctx, rt.Bus, connectors.TopicSessionOpened, func(connectors.SessionOpened) {
		go func() {
			ctx, cancel := context.WithTimeout(rt.Ctx, applyTimeout)
			defer cancel()
			cfg, err := rt.Settings.Submit(ctx, in, rt.DeviceDefaults())
			if err != nil {
				logger.Warn("apply device settings", "error", err)
				return
			}
			logger.Info("device settings applied", "config", fmt.Sprintf("%+v", cfg))
		}()
	})
}

func watchRaw(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	bus.Listen(ctx, b, connectors.TopicRawFrameIn, func(frame connectors.RawFrame) {
		logger.Info("raw-in", "len", frame.Len, "text", previewText(frame.Text))
	})
	bus.Listen(ctx, b, connectors.TopicRawFrameOut, func(frame connectors.RawFrame) {
		logger.Info("raw-out", "len", frame.Len, "text", previewText(frame.Text))
	})
}

func printJournal(ctx context.Context, rt *app.Runtime, out io.Writer) error {
	entries, err := rt.AppliedConfigs(ctx, app.JournalListLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "no device settings applied yet")
		return nil
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(
			out,
			"%s  accel=%s gyro=%s filter=%s delay=%d\n",
			e.AppliedAt.Local().Format(journalTimeLayout),
			e.Config.AccelerometerRange, e.Config.GyroRange, e.Config.FilterBand, e.Config.DelaySamples,
		)
	}

	return nil
}

func previewText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxRawPreviewLen {
		return text
	}
	return text[:maxRawPreviewLen] + "..."
}
