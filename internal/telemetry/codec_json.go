package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mpuview/mpuview/internal/domain"
)

// JSONCodec speaks the JSON text protocol of the device stream.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

type fieldRef struct {
	path   string
	lookup func(root map[string]any) (any, bool)
}

var streamFields = []fieldRef{
	{path: "acceleration.x", lookup: objectPath("acceleration", "x")},
	{path: "acceleration.y", lookup: objectPath("acceleration", "y")},
	{path: "acceleration.z", lookup: objectPath("acceleration", "z")},
	{path: "gyro.x", lookup: objectPath("gyro", "x")},
	{path: "gyro.y", lookup: objectPath("gyro", "y")},
	{path: "gyro.z", lookup: objectPath("gyro", "z")},
	{path: "temperature", lookup: objectPath("temperature")},
}

// Firmware builds print {"gyro": [x, y, z], "accel": [x, y, z], "temp": t}.
var firmwareFields = []fieldRef{
	{path: "accel[0]", lookup: arrayIndex("accel", 0)},
	{path: "accel[1]", lookup: arrayIndex("accel", 1)},
	{path: "accel[2]", lookup: arrayIndex("accel", 2)},
	{path: "gyro[0]", lookup: arrayIndex("gyro", 0)},
	{path: "gyro[1]", lookup: arrayIndex("gyro", 1)},
	{path: "gyro[2]", lookup: arrayIndex("gyro", 2)},
	{path: "temp", lookup: objectPath("temp")},
}

func (c *JSONCodec) Decode(raw string) (domain.SensorFrame, error) {
	root, err := decodeObject(raw)
	if err != nil {
		return domain.SensorFrame{}, err
	}

	fields := streamFields
	if isFirmwareShape(root) {
		fields = firmwareFields
	}

	var values [7]float64
	for i, field := range fields {
		value, ok := field.lookup(root)
		if !ok {
			return domain.SensorFrame{}, &DecodeError{Kind: MissingField, Field: field.path}
		}
		n, err := finiteNumber(value)
		if err != nil {
			return domain.SensorFrame{}, &DecodeError{Kind: InvalidNumber, Field: field.path, Err: err}
		}
		values[i] = n
	}

	return domain.SensorFrame{
		Acceleration: domain.Vector3{X: values[0], Y: values[1], Z: values[2]},
		Gyro:         domain.Vector3{X: values[3], Y: values[4], Z: values[5]},
		Temperature:  values[6],
	}, nil
}

type configPayload struct {
	AccelerometerRange string `json:"accelerometerRange"`
	GyroRange          string `json:"gyroRange"`
	FilterBand         string `json:"filterBand"`
	Delay              int    `json:"delay"`
}

// Encode validates cfg and renders it with a fixed key order.
func (c *JSONCodec) Encode(cfg domain.DeviceConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(configPayload{
		AccelerometerRange: string(cfg.AccelerometerRange),
		GyroRange:          string(cfg.GyroRange),
		FilterBand:         string(cfg.FilterBand),
		Delay:              cfg.DelaySamples,
	})
	if err != nil {
		return "", fmt.Errorf("encode device config: %w", err)
	}

	return string(raw), nil
}

// DecodeConfig parses an outbound config command back into a DeviceConfig.
// The delay may be a number or a numeric string.
func (c *JSONCodec) DecodeConfig(raw string) (domain.DeviceConfig, error) {
	root, err := decodeObject(raw)
	if err != nil {
		return domain.DeviceConfig{}, err
	}

	text := func(key string) string {
		value, ok := root[key]
		if !ok {
			return ""
		}
		switch v := value.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		default:
			return ""
		}
	}

	delay := text("delay")
	if _, ok := root["delay"]; !ok {
		delay = text("delaySamples")
	}

	return domain.ParseDeviceConfig(text("accelerometerRange"), text("gyroRange"), text("filterBand"), delay)
}

type vectorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type framePayload struct {
	Acceleration vectorPayload `json:"acceleration"`
	Gyro         vectorPayload `json:"gyro"`
	Temperature  float64       `json:"temperature"`
}

type firmwarePayload struct {
	Gyro  [3]float64 `json:"gyro"`
	Accel [3]float64 `json:"accel"`
	Temp  float64    `json:"temp"`
}

// EncodeFrame renders frame the way the device streams it.
func (c *JSONCodec) EncodeFrame(frame domain.SensorFrame) (string, error) {
	if !frame.IsFinite() {
		return "", errors.New("encode frame: non-finite value")
	}

	raw, err := json.Marshal(framePayload{
		Acceleration: vectorPayload(frame.Acceleration),
		Gyro:         vectorPayload(frame.Gyro),
		Temperature:  frame.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}

	return string(raw), nil
}

// EncodeFirmwareFrame renders frame in the firmware's tuple shape.
func (c *JSONCodec) EncodeFirmwareFrame(frame domain.SensorFrame) (string, error) {
	if !frame.IsFinite() {
		return "", errors.New("encode frame: non-finite value")
	}

	raw, err := json.Marshal(firmwarePayload{
		Gyro:  [3]float64{frame.Gyro.X, frame.Gyro.Y, frame.Gyro.Z},
		Accel: [3]float64{frame.Acceleration.X, frame.Acceleration.Y, frame.Acceleration.Z},
		Temp:  frame.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}

	return string(raw), nil
}

func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, &DecodeError{Kind: MalformedPayload, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Kind: MalformedPayload, Err: errors.New("trailing data after JSON value")}
	}

	root, ok := value.(map[string]any)
	if !ok {
		return nil, &DecodeError{Kind: MalformedPayload, Err: fmt.Errorf("expected JSON object, got %s", jsonKind(value))}
	}

	return root, nil
}

func isFirmwareShape(root map[string]any) bool {
	_, hasAcceleration := root["acceleration"]
	_, hasTemperature := root["temperature"]
	if hasAcceleration || hasTemperature {
		return false
	}
	_, hasAccel := root["accel"]
	_, hasTemp := root["temp"]

	return hasAccel || hasTemp
}

func objectPath(keys ...string) func(map[string]any) (any, bool) {
	return func(root map[string]any) (any, bool) {
		var current any = root
		for _, key := range keys {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[key]
			if !ok {
				return nil, false
			}
		}

		return current, true
	}
}

func arrayIndex(key string, idx int) func(map[string]any) (any, bool) {
	return func(root map[string]any) (any, bool) {
		items, ok := root[key].([]any)
		if !ok || idx >= len(items) {
			return nil, false
		}

		return items[idx], true
	}
}

func finiteNumber(value any) (float64, error) {
	var text string
	switch v := value.(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, fmt.Errorf("%s is not a number", jsonKind(value))
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%q is not finite", text)
	}

	return n, nil
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
