package app

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/domain"
)

// ConfigSender is the part of the telemetry session the settings form uses.
type ConfigSender interface {
	SendConfig(ctx context.Context, cfg domain.DeviceConfig) error
}

// DeviceDefaultsSaver remembers the last applied device settings.
type DeviceDefaultsSaver interface {
	SaveDeviceDefaults(cfg domain.DeviceConfig) error
}

// SettingsInput holds the raw values typed into the settings form.
// Blank fields keep the current value.
type SettingsInput struct {
	AccelerometerRange string
	GyroRange          string
	FilterBand         string
	Delay              string
}

// ParseDeviceConfig builds a DeviceConfig from form input on top of current.
func ParseDeviceConfig(in SettingsInput, current domain.DeviceConfig) (domain.DeviceConfig, error) {
	return domain.ParseDeviceConfig(
		orDefault(in.AccelerometerRange, string(current.AccelerometerRange)),
		orDefault(in.GyroRange, string(current.GyroRange)),
		orDefault(in.FilterBand, string(current.FilterBand)),
		orDefault(in.Delay, strconv.Itoa(current.DelaySamples)),
	)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

// Settings applies device configurations submitted by the user.
type Settings struct {
	logger   *slog.Logger
	session  ConfigSender
	bus      bus.Publisher
	defaults DeviceDefaultsSaver
}

func NewSettings(logger *slog.Logger, session ConfigSender, pub bus.Publisher, defaults DeviceDefaultsSaver) *Settings {
	if logger == nil {
		logger = slog.Default()
	}

	return &Settings{
		logger:   logger,
		session:  session,
		bus:      pub,
		defaults: defaults,
	}
}

// Apply sends cfg to the device. On success it publishes ConfigApplied and
// stores cfg as the device defaults; a failed save is logged, not returned.
func (s *Settings) Apply(ctx context.Context, cfg domain.DeviceConfig) error {
	if err := s.session.SendConfig(ctx, cfg); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(connectors.TopicConfigApplied, connectors.ConfigApplied{
			Config:    cfg,
			Timestamp: time.Now(),
		})
	}
	if s.defaults != nil {
		if err := s.defaults.SaveDeviceDefaults(cfg); err != nil {
			s.logger.Warn("save device defaults", "error", err)
		}
	}

	return nil
}

// Submit parses form input on top of current and applies the result.
func (s *Settings) Submit(ctx context.Context, in SettingsInput, current domain.DeviceConfig) (domain.DeviceConfig, error) {
	cfg, err := ParseDeviceConfig(in, current)
	if err != nil {
		return domain.DeviceConfig{}, err
	}
	if err := s.Apply(ctx, cfg); err != nil {
		return domain.DeviceConfig{}, err
	}

	return cfg, nil
}
