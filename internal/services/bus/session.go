// Package bus keeps the broker session alive and carries telemetry out and
// commands in.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ticks"
)

type Config struct {
	Options        ports.BusOptions
	TelemetryTopic string
	ControlTopic   string
	QoS            byte

	PingInterval      time.Duration
	ReconnectAttempts int
	ReconnectTimeout  time.Duration
	InitialBackoff    time.Duration
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = 20 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
}

// Session owns the bus client and the bus LinkState in NodeContext. Every
// recovery path (ensure, ping failure, publish failure) goes through reconnect.
type Session struct {
	cfg    Config
	dialer ports.BusDialer
	clock  ticks.Clock
	logger *slog.Logger

	client   ports.BusClient
	lastPing ticks.Ticks
}

func NewSession(cfg Config, dialer ports.BusDialer, clock ticks.Clock, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, dialer: dialer, clock: clock, logger: logger.With("subsystem", "bus")}
}

func (s *Session) connected() bool { return s.client != nil }

// EnsureUp connects and subscribes to the control topic. It is a no-op while Up.
func (s *Session) EnsureUp(ctx context.Context, nc *model.NodeContext) error {
	if s.connected() && nc.Bus == model.LinkUp {
		return nil
	}
	return s.reconnect(ctx, nc)
}

// reconnect drops any current client and dials again with bounded exponential
// backoff.
func (s *Session) reconnect(ctx context.Context, nc *model.NodeContext) error {
	s.Drop(nc)
	nc.Bus = model.LinkConnecting

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReconnectTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.connectOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("MQTT connect attempt failed", "attempt", attempt, "err", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.ReconnectAttempts-1)), ctx))
	if err != nil {
		nc.Bus = model.LinkDown
		return &ports.BusError{Op: "connect", Transient: true, Err: fmt.Errorf("%d attempts: %w", attempt, err)}
	}

	nc.Bus = model.LinkUp
	s.lastPing = s.clock.Now()
	s.logger.Info("MQTT session up", "broker", s.cfg.Options.Host, "port", s.cfg.Options.Port,
		"control_topic", s.cfg.ControlTopic, "qos", s.cfg.QoS)
	return nil
}

func (s *Session) connectOnce(ctx context.Context) error {
	c, err := s.dialer.Dial(ctx, s.cfg.Options)
	if err != nil {
		return err
	}
	if err := c.Subscribe(s.cfg.ControlTopic, s.cfg.QoS); err != nil {
		c.Disconnect()
		return fmt.Errorf("subscribe %s: %w", s.cfg.ControlTopic, err)
	}
	s.client = c
	return nil
}

// KeepAlive probes the session when PingInterval has elapsed since the last
// probe. A failed probe reconnects; the probe error is still returned so the
// caller can count it.
func (s *Session) KeepAlive(ctx context.Context, nc *model.NodeContext) error {
	now := s.clock.Now()
	if s.client == nil || !ticks.Due(now, s.lastPing, s.cfg.PingInterval) {
		return nil
	}
	s.lastPing = now

	err := s.client.Ping()
	if err == nil {
		s.logger.Debug("MQTT ping ok")
		return nil
	}
	pingErr := &ports.BusError{Op: "ping", Transient: ports.IsConnectionLoss(err), Err: err}
	if rerr := s.reconnect(ctx, nc); rerr != nil {
		return errors.Join(pingErr, rerr)
	}
	return pingErr
}

// Publish sends payload on the telemetry topic. A connection-loss error buys
// exactly one reconnect and retry; anything else fails at once.
func (s *Session) Publish(ctx context.Context, nc *model.NodeContext, payload []byte) error {
	err := s.publishOnce(payload)
	if err == nil {
		return nil
	}
	if !ports.IsConnectionLoss(err) {
		return &ports.BusError{Op: "publish", Err: err}
	}

	s.logger.Warn("Publish failed on a lost connection, reconnecting", "err", err)
	if rerr := s.reconnect(ctx, nc); rerr != nil {
		return &ports.BusError{Op: "publish", Transient: true, Retried: true, Err: errors.Join(err, rerr)}
	}
	if err := s.publishOnce(payload); err != nil {
		return &ports.BusError{Op: "publish", Transient: ports.IsConnectionLoss(err), Retried: true, Err: err}
	}
	s.logger.Info("Publish succeeded after reconnect")
	return nil
}

func (s *Session) publishOnce(payload []byte) error {
	if s.client == nil {
		return ports.ErrNotConnected
	}
	return s.client.Publish(s.cfg.TelemetryTopic, s.cfg.QoS, payload)
}

// PollInbound takes at most one pending message without blocking. An empty
// inbox is (false, nil).
func (s *Session) PollInbound(nc *model.NodeContext) (ports.Message, bool, error) {
	if s.client == nil {
		return ports.Message{}, false, &ports.BusError{Op: "poll", Transient: true, Err: ports.ErrNotConnected}
	}
	m, err := s.client.CheckMessage()
	switch {
	case err == nil:
		return m, true, nil
	case errors.Is(err, ports.ErrNoMessage):
		return ports.Message{}, false, nil
	}
	transient := ports.IsConnectionLoss(err)
	if transient {
		s.Drop(nc)
	}
	return ports.Message{}, false, &ports.BusError{Op: "poll", Transient: transient, Err: err}
}

// Drop disconnects and forgets the client. The next EnsureUp dials afresh.
func (s *Session) Drop(nc *model.NodeContext) {
	if s.client != nil {
		s.client.Disconnect()
		s.client = nil
		s.logger.Info("MQTT client dropped")
	}
	nc.Bus = model.LinkDown
}
