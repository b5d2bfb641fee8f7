// Package host implements the node's collaborators on a Linux edge host.
package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// ThermalSensor reads a temperature from the host's thermal sensors. Key
// selects the first sensor whose key contains it; empty takes the first one.
type ThermalSensor struct {
	Key  string
	read func() ([]host.TemperatureStat, error)
}

func NewThermalSensor(key string) *ThermalSensor {
	return &ThermalSensor{Key: key, read: host.SensorsTemperatures}
}

func (s *ThermalSensor) ReadRaw() (float64, error) {
	temps, err := s.read()
	// gopsutil returns readable sensors together with a warning for the rest.
	if err != nil && len(temps) == 0 {
		return 0, fmt.Errorf("read thermal sensors: %w", err)
	}
	for _, t := range temps {
		if s.Key == "" || strings.Contains(t.SensorKey, s.Key) {
			return t.Temperature, nil
		}
	}
	if s.Key == "" {
		return 0, errors.New("no thermal sensors")
	}
	return 0, fmt.Errorf("no thermal sensor matching %q", s.Key)
}
