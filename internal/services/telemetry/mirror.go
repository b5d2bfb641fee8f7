package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model/messages"
)

const measurement = "node_temperature"

// PointWriter is the part of influxdb2 api.WriteAPIBlocking the mirror needs.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type MirrorConfig struct {
	Timeout      time.Duration // per write
	TripAfter    uint32        // consecutive failures before the breaker opens
	OpenDuration time.Duration
}

// InfluxMirror writes each published reading as an InfluxDB point. A breaker
// sits in front of the writer so a dead database costs one fast-failing call
// per sample instead of a Timeout.
type InfluxMirror struct {
	w      PointWriter
	cb     *gobreaker.CircuitBreaker
	cfg    MirrorConfig
	logger *slog.Logger

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

func NewInfluxMirror(w PointWriter, cfg MirrorConfig, logger *slog.Logger) *InfluxMirror {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 3
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &InfluxMirror{
		w:       w,
		cfg:     cfg,
		logger:  logger.With("subsystem", "mirror"),
		lastErr: time.Now().Add(-24 * time.Hour), // no error yet: far in the past
	}
	m.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx-mirror",
		Timeout: cfg.OpenDuration,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Info("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return m
}

// ToPoint turns a TelemetryMessage into an InfluxDB point.
func ToPoint(msg messages.TelemetryMessage, at time.Time) *write.Point {
	tags := map[string]string{
		"device_id": msg.DeviceID,
		"unit":      msg.Unit,
	}
	fields := map[string]interface{}{
		"temperature": msg.Temperature,
		"ticks":       int64(msg.Timestamp),
	}
	if msg.Battery != nil {
		fields["battery"] = *msg.Battery
	}
	return influxdb2.NewPoint(measurement, tags, fields, at)
}

func (m *InfluxMirror) Record(ctx context.Context, msg messages.TelemetryMessage) error {
	p := ToPoint(msg, time.Now())
	_, err := m.cb.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		return nil, m.w.WritePoint(wctx, p)
	})
	m.mu.Lock()
	if err != nil {
		m.lastErr = time.Now()
	} else {
		m.written++
	}
	m.mu.Unlock()
	return err
}

// LastErrorAge is the time since the last failed write.
func (m *InfluxMirror) LastErrorAge() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastErr)
}

func (m *InfluxMirror) Written() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.written
}

// BreakerState names the breaker state: closed, half-open or open.
func (m *InfluxMirror) BreakerState() string { return m.cb.State().String() }
