package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// AccelRange is the accelerometer full-scale range.
type AccelRange string

const (
	AccelRange2G  AccelRange = "2g"
	AccelRange4G  AccelRange = "4g"
	AccelRange8G  AccelRange = "8g"
	AccelRange16G AccelRange = "16g"
)

// GyroRange is the gyroscope full-scale range.
type GyroRange string

const (
	GyroRange250DPS  GyroRange = "250dps"
	GyroRange500DPS  GyroRange = "500dps"
	GyroRange1000DPS GyroRange = "1000dps"
	GyroRange2000DPS GyroRange = "2000dps"
)

// FilterBand is the digital low-pass filter bandwidth.
// FilterBand20Hz selects the 21 Hz hardware setting.
type FilterBand string

const (
	FilterBand260Hz FilterBand = "260Hz"
	FilterBand184Hz FilterBand = "184Hz"
	FilterBand94Hz  FilterBand = "94Hz"
	FilterBand44Hz  FilterBand = "44Hz"
	FilterBand20Hz  FilterBand = "20Hz"
	FilterBand10Hz  FilterBand = "10Hz"
	FilterBand5Hz   FilterBand = "5Hz"
)

const (
	FieldAccelerometerRange = "accelerometerRange"
	FieldGyroRange          = "gyroRange"
	FieldFilterBand         = "filterBand"
	FieldDelaySamples       = "delaySamples"
)

var accelRanges = map[AccelRange]int{
	AccelRange2G:  2,
	AccelRange4G:  4,
	AccelRange8G:  8,
	AccelRange16G: 16,
}

var gyroRanges = map[GyroRange]int{
	GyroRange250DPS:  250,
	GyroRange500DPS:  500,
	GyroRange1000DPS: 1000,
	GyroRange2000DPS: 2000,
}

var filterBands = map[FilterBand]int{
	FilterBand260Hz: 260,
	FilterBand184Hz: 184,
	FilterBand94Hz:  94,
	FilterBand44Hz:  44,
	FilterBand20Hz:  20,
	FilterBand10Hz:  10,
	FilterBand5Hz:   5,
}

func AccelRanges() []AccelRange {
	return []AccelRange{AccelRange2G, AccelRange4G, AccelRange8G, AccelRange16G}
}

func GyroRanges() []GyroRange {
	return []GyroRange{GyroRange250DPS, GyroRange500DPS, GyroRange1000DPS, GyroRange2000DPS}
}

func FilterBands() []FilterBand {
	return []FilterBand{
		FilterBand260Hz, FilterBand184Hz, FilterBand94Hz, FilterBand44Hz,
		FilterBand20Hz, FilterBand10Hz, FilterBand5Hz,
	}
}

func (r AccelRange) Valid() bool {
	_, ok := accelRanges[r]
	return ok
}

// G returns the range magnitude in g, or 0 for unknown values.
func (r AccelRange) G() int {
	return accelRanges[r]
}

func (r GyroRange) Valid() bool {
	_, ok := gyroRanges[r]
	return ok
}

// DPS returns the range magnitude in degrees per second, or 0 for unknown values.
func (r GyroRange) DPS() int {
	return gyroRanges[r]
}

func (b FilterBand) Valid() bool {
	_, ok := filterBands[b]
	return ok
}

// Hz returns the filter bandwidth, or 0 for unknown values.
func (b FilterBand) Hz() int {
	return filterBands[b]
}

// DeviceConfig is a set of sensor parameters pushed to the device.
type DeviceConfig struct {
	AccelerometerRange AccelRange
	GyroRange          GyroRange
	FilterBand         FilterBand
	DelaySamples       int
}

// DefaultDeviceConfig mirrors the settings the firmware applies on boot.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		AccelerometerRange: AccelRange2G,
		GyroRange:          GyroRange250DPS,
		FilterBand:         FilterBand44Hz,
		DelaySamples:       0,
	}
}

// InvalidConfigError names the first DeviceConfig field that is missing or out of its domain.
type InvalidConfigError struct {
	Field string
	Value string
}

func (e *InvalidConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid device config: %s is required", e.Field)
	}

	return fmt.Sprintf("invalid device config: %s %q is out of range", e.Field, e.Value)
}

// Validate checks fields in wire order and reports the first bad one.
func (c DeviceConfig) Validate() error {
	if !c.AccelerometerRange.Valid() {
		return &InvalidConfigError{Field: FieldAccelerometerRange, Value: string(c.AccelerometerRange)}
	}
	if !c.GyroRange.Valid() {
		return &InvalidConfigError{Field: FieldGyroRange, Value: string(c.GyroRange)}
	}
	if !c.FilterBand.Valid() {
		return &InvalidConfigError{Field: FieldFilterBand, Value: string(c.FilterBand)}
	}
	if c.DelaySamples < 0 {
		return &InvalidConfigError{Field: FieldDelaySamples, Value: strconv.Itoa(c.DelaySamples)}
	}

	return nil
}

// ParseAccelRange accepts a label ("4g") or a bare magnitude ("4").
func ParseAccelRange(raw string) (AccelRange, error) {
	for _, r := range AccelRanges() {
		if matchesLabel(raw, string(r), r.G(), "g") {
			return r, nil
		}
	}

	return "", &InvalidConfigError{Field: FieldAccelerometerRange, Value: strings.TrimSpace(raw)}
}

// ParseGyroRange accepts a label ("500dps") or a bare magnitude ("500").
func ParseGyroRange(raw string) (GyroRange, error) {
	for _, r := range GyroRanges() {
		if matchesLabel(raw, string(r), r.DPS(), "dps") {
			return r, nil
		}
	}

	return "", &InvalidConfigError{Field: FieldGyroRange, Value: strings.TrimSpace(raw)}
}

// ParseFilterBand accepts a label ("44Hz") or a bare bandwidth ("44").
func ParseFilterBand(raw string) (FilterBand, error) {
	for _, b := range FilterBands() {
		if matchesLabel(raw, string(b), b.Hz(), "hz") {
			return b, nil
		}
	}

	return "", &InvalidConfigError{Field: FieldFilterBand, Value: strings.TrimSpace(raw)}
}

func ParseDelaySamples(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, &InvalidConfigError{Field: FieldDelaySamples, Value: value}
	}

	return n, nil
}

// ParseDeviceConfig builds a validated DeviceConfig from raw form values.
func ParseDeviceConfig(accel, gyro, filter, delay string) (DeviceConfig, error) {
	var (
		cfg DeviceConfig
		err error
	)
	if cfg.AccelerometerRange, err = ParseAccelRange(accel); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.GyroRange, err = ParseGyroRange(gyro); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.FilterBand, err = ParseFilterBand(filter); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.DelaySamples, err = ParseDelaySamples(delay); err != nil {
		return DeviceConfig{}, err
	}

	return cfg, nil
}

func matchesLabel(raw, label string, magnitude int, unit string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return false
	}
	if value == strings.ToLower(label) {
		return true
	}
	value = strings.TrimSpace(strings.TrimSuffix(value, unit))

	return value == strconv.Itoa(magnitude)
}
