package messages

import "math"

const UnitCelsius = "°C"

// TelemetryMessage is the JSON document published on the telemetry topic.
type TelemetryMessage struct {
	Temperature float64  `json:"temperature"`
	Timestamp   uint32   `json:"timestamp"`
	DeviceID    string   `json:"device_id"`
	Unit        string   `json:"unit"`
	Battery     *float64 `json:"battery,omitempty"`
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
