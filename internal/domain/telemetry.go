package domain

import "math"

// Vector3 is a three-axis reading.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// SensorFrame is one telemetry sample received from the device.
// Acceleration is in g, Gyro in degrees per second, Temperature in Celsius.
type SensorFrame struct {
	Acceleration Vector3
	Gyro         Vector3
	Temperature  float64
}

func (f SensorFrame) IsFinite() bool {
	return f.Acceleration.IsFinite() && f.Gyro.IsFinite() && isFinite(f.Temperature)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
