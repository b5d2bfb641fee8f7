// Package telemetry samples the temperature source and publishes readings.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ticks"
)

// BatteryFullScale and BatteryVRef convert a raw ADC reading to volts.
const (
	BatteryFullScale = 4096.0
	BatteryVRef      = 3.3
)

type Config struct {
	Interval time.Duration
	Offset   float64
	DeviceID string
	// Battery is read only when ADC is also supplied.
	IncludeBattery bool
}

// Publisher is the outbound half of the bus session.
type Publisher interface {
	Publish(ctx context.Context, nc *model.NodeContext, payload []byte) error
}

// Mirror receives every reading that was published on the bus.
type Mirror interface {
	Record(ctx context.Context, msg messages.TelemetryMessage) error
}

type Pipeline struct {
	cfg    Config
	sensor ports.SensorReader
	adc    ports.ADC
	mirror Mirror
	logger *slog.Logger

	last ticks.Ticks
}

// NewPipeline arms the sampling timer at start; the first sample fires one
// Interval later.
func NewPipeline(cfg Config, sensor ports.SensorReader, adc ports.ADC, start ticks.Ticks, logger *slog.Logger) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, sensor: sensor, adc: adc, last: start, logger: logger.With("subsystem", "temp")}
}

// WithMirror attaches an optional secondary sink.
func (p *Pipeline) WithMirror(m Mirror) *Pipeline {
	p.mirror = m
	return p
}

// SampleIfDue reads, calibrates and filters one sample once Interval has
// elapsed since the previous fire. fired is false when nothing was due. A read
// failure still consumes the slot and is returned as *ports.SensorReadError.
func (p *Pipeline) SampleIfDue(nc *model.NodeContext, now ticks.Ticks) (value float64, fired bool, err error) {
	if !ticks.Due(now, p.last, p.cfg.Interval) {
		return 0, false, nil
	}
	p.last = now

	raw, err := p.sensor.ReadRaw()
	if err != nil {
		return 0, true, &ports.SensorReadError{Err: err}
	}
	value = raw + p.cfg.Offset

	if w := nc.Window; w != nil {
		w.Push(value)
		// Warm-up: the calibrated value passes through until the window is full.
		if w.Full() {
			value = w.Mean()
			p.logger.Debug("Filtered sample", "samples", w.Len(), "mean", messages.Round2(value))
		} else {
			p.logger.Debug("Filter warming up", "samples", w.Len(), "capacity", w.Capacity())
		}
	}
	return value, true, nil
}

// Build assembles the telemetry document for value.
func (p *Pipeline) Build(value float64, now ticks.Ticks) messages.TelemetryMessage {
	msg := messages.TelemetryMessage{
		Temperature: messages.Round2(value),
		Timestamp:   uint32(now),
		DeviceID:    p.cfg.DeviceID,
		Unit:        messages.UnitCelsius,
	}
	if p.cfg.IncludeBattery && p.adc != nil {
		raw, err := p.adc.Read()
		if err != nil {
			p.logger.Warn("Battery read failed", "err", err)
		} else {
			v := messages.Round2(float64(raw) / BatteryFullScale * BatteryVRef)
			msg.Battery = &v
		}
	}
	return msg
}

// Publish sends value through pub. On success the reading is recorded as the
// last temperature and forwarded to the mirror; mirror failures are logged only.
func (p *Pipeline) Publish(ctx context.Context, nc *model.NodeContext, pub Publisher, value float64, now ticks.Ticks) error {
	msg := p.Build(value, now)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	if err := pub.Publish(ctx, nc, payload); err != nil {
		return err
	}

	t := msg.Temperature
	nc.LastTemperature = &t
	p.logger.Debug("Temperature published", "temperature", t)

	if p.mirror != nil {
		if err := p.mirror.Record(ctx, msg); err != nil {
			p.logger.Warn("Telemetry mirror write failed", "err", err)
		}
	}
	return nil
}
