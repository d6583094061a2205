package display

import (
	"fmt"
	"strconv"

	"github.com/mpuview/mpuview/internal/domain"
)

// Readout is a sensor frame formatted for display with two decimals.
type Readout struct {
	AccelX      string
	AccelY      string
	AccelZ      string
	GyroX       string
	GyroY       string
	GyroZ       string
	Temperature string
}

func FormatFrame(frame domain.SensorFrame) Readout {
	return Readout{
		AccelX:      formatValue(frame.Acceleration.X),
		AccelY:      formatValue(frame.Acceleration.Y),
		AccelZ:      formatValue(frame.Acceleration.Z),
		GyroX:       formatValue(frame.Gyro.X),
		GyroY:       formatValue(frame.Gyro.Y),
		GyroZ:       formatValue(frame.Gyro.Z),
		Temperature: formatValue(frame.Temperature),
	}
}

func (r Readout) String() string {
	return fmt.Sprintf(
		"accel x=%s y=%s z=%s | gyro x=%s y=%s z=%s | temp %s",
		r.AccelX, r.AccelY, r.AccelZ,
		r.GyroX, r.GyroY, r.GyroZ,
		r.Temperature,
	)
}

// formatValue matches toFixed(2): exact negative zero prints as 0.00, small
// negatives keep their sign.
func formatValue(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
