package domain

import (
	"errors"
	"math"
	"testing"
)

func TestDeviceConfigValidate(t *testing.T) {
	valid := DeviceConfig{
		AccelerometerRange: AccelRange2G,
		GyroRange:          GyroRange250DPS,
		FilterBand:         FilterBand20Hz,
		DelaySamples:       10,
	}

	tests := []struct {
		name      string
		mutate    func(c *DeviceConfig)
		wantField string
	}{
		{name: "valid", mutate: func(*DeviceConfig) {}},
		{name: "zero delay", mutate: func(c *DeviceConfig) { c.DelaySamples = 0 }},
		{name: "missing accel", mutate: func(c *DeviceConfig) { c.AccelerometerRange = "" }, wantField: FieldAccelerometerRange},
		{name: "unknown accel", mutate: func(c *DeviceConfig) { c.AccelerometerRange = "3g" }, wantField: FieldAccelerometerRange},
		{name: "unknown gyro", mutate: func(c *DeviceConfig) { c.GyroRange = "300dps" }, wantField: FieldGyroRange},
		{name: "missing filter", mutate: func(c *DeviceConfig) { c.FilterBand = "" }, wantField: FieldFilterBand},
		{name: "negative delay", mutate: func(c *DeviceConfig) { c.DelaySamples = -1 }, wantField: FieldDelaySamples},
		{name: "first bad field wins", mutate: func(c *DeviceConfig) { c.GyroRange = ""; c.DelaySamples = -5 }, wantField: FieldGyroRange},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}

			var invalid *InvalidConfigError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidConfigError, got %v", err)
			}
			if invalid.Field != tc.wantField {
				t.Fatalf("expected field %q, got %q", tc.wantField, invalid.Field)
			}
		})
	}
}

func TestParseDeviceConfigAcceptsLabelsAndMagnitudes(t *testing.T) {
	cfg, err := ParseDeviceConfig("16", " 2000DPS ", "5hz", "3")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	want := DeviceConfig{
		AccelerometerRange: AccelRange16G,
		GyroRange:          GyroRange2000DPS,
		FilterBand:         FilterBand5Hz,
		DelaySamples:       3,
	}
	if cfg != want {
		t.Fatalf("unexpected config: got %+v want %+v", cfg, want)
	}
}

func TestParseDeviceConfigRejectsOutOfDomainValues(t *testing.T) {
	tests := []struct {
		name                       string
		accel, gyro, filter, delay string
		wantField                  string
	}{
		{name: "accel", accel: "32g", gyro: "250", filter: "44", delay: "0", wantField: FieldAccelerometerRange},
		{name: "gyro", accel: "2", gyro: "", filter: "44", delay: "0", wantField: FieldGyroRange},
		{name: "filter 21 is labelled 20", accel: "2", gyro: "250", filter: "21Hz", delay: "0", wantField: FieldFilterBand},
		{name: "delay text", accel: "2", gyro: "250", filter: "44", delay: "soon", wantField: FieldDelaySamples},
		{name: "delay negative", accel: "2", gyro: "250", filter: "44", delay: "-1", wantField: FieldDelaySamples},
	}

	for _, tc := range tests {
		_, err := ParseDeviceConfig(tc.accel, tc.gyro, tc.filter, tc.delay)
		var invalid *InvalidConfigError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: expected InvalidConfigError, got %v", tc.name, err)
		}
		if invalid.Field != tc.wantField {
			t.Fatalf("%s: expected field %q, got %q", tc.name, tc.wantField, invalid.Field)
		}
	}
}

func TestDefaultDeviceConfigIsValid(t *testing.T) {
	if err := DefaultDeviceConfig().Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestSensorFrameIsFinite(t *testing.T) {
	frame := SensorFrame{Acceleration: Vector3{X: 1}, Temperature: 36.6}
	if !frame.IsFinite() {
		t.Fatalf("expected finite frame")
	}

	frame.Gyro.Z = math.Inf(-1)
	if frame.IsFinite() {
		t.Fatalf("expected infinite gyro to be rejected")
	}

	frame.Gyro.Z = 0
	frame.Temperature = math.NaN()
	if frame.IsFinite() {
		t.Fatalf("expected NaN temperature to be rejected")
	}
}
