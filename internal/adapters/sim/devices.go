package sim

import (
	"fmt"
	"log/slog"

	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
)

// Station is a link that associates on the first Connect.
type Station struct {
	active    bool
	connected bool
}

func (s *Station) Activate() error              { s.active = true; return nil }
func (s *Station) Deactivate() error            { s.active = false; s.connected = false; return nil }
func (s *Station) Connect(string, string) error { s.connected = s.active; return nil }
func (s *Station) IsConnected() bool            { return s.active && s.connected }
func (s *Station) Disconnect() error            { s.connected = false; return nil }
func (s *Station) SignalStrength() (int, error) { return -55, nil }

func (s *Station) IfConfig() (ports.IfConfig, error) {
	if !s.IsConnected() {
		return ports.IfConfig{}, fmt.Errorf("not associated")
	}
	return ports.IfConfig{IP: "10.0.0.2", Netmask: "255.255.255.0", Gateway: "10.0.0.1", DNS: "10.0.0.1"}, nil
}

// Strip keeps the last committed frame and logs it.
type Strip struct {
	staged    []ports.RGB
	committed []ports.RGB
	logger    *slog.Logger
}

func NewStrip(pixels int, logger *slog.Logger) *Strip {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strip{
		staged:    make([]ports.RGB, pixels),
		committed: make([]ports.RGB, pixels),
		logger:    logger.With("component", "sim-strip"),
	}
}

func (s *Strip) Len() int { return len(s.staged) }

func (s *Strip) SetPixel(i int, c ports.RGB) error {
	if i < 0 || i >= len(s.staged) {
		return fmt.Errorf("pixel %d out of range 0..%d", i, len(s.staged)-1)
	}
	s.staged[i] = c
	return nil
}

func (s *Strip) Commit() error {
	copy(s.committed, s.staged)
	if len(s.committed) > 0 {
		c := s.committed[0]
		s.logger.Info("Frame", "r", c.R, "g", c.G, "b", c.B, "pixels", len(s.committed))
	}
	return nil
}

// Frame returns a copy of the last committed frame.
func (s *Strip) Frame() []ports.RGB {
	out := make([]ports.RGB, len(s.committed))
	copy(out, s.committed)
	return out
}

// ADC returns a fixed raw reading.
type ADC struct {
	Raw int
}

func (a ADC) Read() (int, error) { return a.Raw, nil }
