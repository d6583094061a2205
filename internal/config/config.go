package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mpuview/mpuview/internal/domain"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

// LogFormat selects the slog handler used for log output.
type LogFormat string

const (
	ConnectorWebSocket ConnectorType = "websocket"
	ConnectorTCP       ConnectorType = "tcp"
	ConnectorSerial    ConnectorType = "serial"

	DefaultPort       = 80
	DefaultStreamPath = "/stream"
	DefaultSerialBaud = 115200

	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"

	DefaultReconnectInitialDelayMS = 1000
	DefaultReconnectMaxDelayMS     = 15000
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string    `json:"level"`
	Format    LogFormat `json:"format"`
	LogToFile bool      `json:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	Path       string        `json:"path"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
}

// DeviceConfig stores the sensor settings last applied to the device.
type DeviceConfig struct {
	AccelerometerRange domain.AccelRange `json:"accelerometer_range"`
	GyroRange          domain.GyroRange  `json:"gyro_range"`
	FilterBand         domain.FilterBand `json:"filter_band"`
	DelaySamples       int               `json:"delay_samples"`
}

// ReconnectConfig controls automatic reopening after an unrequested disconnect.
type ReconnectConfig struct {
	Enabled        bool `json:"enabled"`
	InitialDelayMS int  `json:"initial_delay_ms"`
	MaxDelayMS     int  `json:"max_delay_ms"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Logging    LoggingConfig    `json:"logging"`
	Device     DeviceConfig     `json:"device"`
	Reconnect  ReconnectConfig  `json:"reconnect"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorWebSocket,
			Host:       "",
			Port:       DefaultPort,
			Path:       DefaultStreamPath,
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    LogFormatText,
			LogToFile: false,
		},
		Device: DeviceConfigFromDomain(domain.DefaultDeviceConfig()),
		Reconnect: ReconnectConfig{
			Enabled:        true,
			InitialDelayMS: DefaultReconnectInitialDelayMS,
			MaxDelayMS:     DefaultReconnectMaxDelayMS,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorWebSocket
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultPort
	}
	if strings.TrimSpace(c.Connection.Path) == "" {
		c.Connection.Path = DefaultStreamPath
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
	c.Device = normalizeDevice(c.Device)
	if c.Reconnect.InitialDelayMS <= 0 {
		c.Reconnect.InitialDelayMS = DefaultReconnectInitialDelayMS
	}
	if c.Reconnect.MaxDelayMS < c.Reconnect.InitialDelayMS {
		c.Reconnect.MaxDelayMS = max(DefaultReconnectMaxDelayMS, c.Reconnect.InitialDelayMS)
	}
}

func normalizeLogFormat(format LogFormat) LogFormat {
	switch LogFormat(strings.ToLower(strings.TrimSpace(string(format)))) {
	case LogFormatJSON:
		return LogFormatJSON
	default:
		return LogFormatText
	}
}

func normalizeDevice(device DeviceConfig) DeviceConfig {
	defaults := domain.DefaultDeviceConfig()
	if !device.AccelerometerRange.Valid() {
		device.AccelerometerRange = defaults.AccelerometerRange
	}
	if !device.GyroRange.Valid() {
		device.GyroRange = defaults.GyroRange
	}
	if !device.FilterBand.Valid() {
		device.FilterBand = defaults.FilterBand
	}
	if device.DelaySamples < 0 {
		device.DelaySamples = defaults.DelaySamples
	}

	return device
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorWebSocket, ConnectorTCP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return fmt.Errorf("%s host is required", c.Connection.Connector)
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("port out of range: %d", c.Connection.Port)
		}
		if !strings.HasPrefix(c.Connection.Path, "/") {
			return fmt.Errorf("stream path must start with '/': %q", c.Connection.Path)
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}
	if err := c.Device.Domain().Validate(); err != nil {
		return fmt.Errorf("device settings: %w", err)
	}
	if c.Reconnect.InitialDelayMS <= 0 || c.Reconnect.MaxDelayMS < c.Reconnect.InitialDelayMS {
		return fmt.Errorf("invalid reconnect delays: initial=%dms max=%dms", c.Reconnect.InitialDelayMS, c.Reconnect.MaxDelayMS)
	}

	return nil
}

// DeviceConfigFromDomain converts applied device settings into their persisted form.
func DeviceConfigFromDomain(cfg domain.DeviceConfig) DeviceConfig {
	return DeviceConfig{
		AccelerometerRange: cfg.AccelerometerRange,
		GyroRange:          cfg.GyroRange,
		FilterBand:         cfg.FilterBand,
		DelaySamples:       cfg.DelaySamples,
	}
}

func (d DeviceConfig) Domain() domain.DeviceConfig {
	return domain.DeviceConfig{
		AccelerometerRange: d.AccelerometerRange,
		GyroRange:          d.GyroRange,
		FilterBand:         d.FilterBand,
		DelaySamples:       d.DelaySamples,
	}
}

func (r ReconnectConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}

func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
