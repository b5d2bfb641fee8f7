// Package connectivity keeps the station link up.
package connectivity

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

var errNotAssociated = errors.New("link not associated")

type Config struct {
	SSID     string
	Password string

	// ConnectTimeout bounds a whole EnsureUp; MaxAttempts bounds the number of
	// connect calls within it. Each attempt waits AttemptTimeout for association.
	ConnectTimeout time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
	PollInterval   time.Duration
	InitialBackoff time.Duration
	ResetPause     time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = c.ConnectTimeout / time.Duration(c.MaxAttempts)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.ResetPause <= 0 {
		c.ResetPause = 2 * time.Second
	}
}

// Supervisor owns the station LinkState transitions in NodeContext.
type Supervisor struct {
	cfg    Config
	link   ports.StationLink
	clock  ticks.Clock
	logger *slog.Logger
}

func NewSupervisor(cfg Config, link ports.StationLink, clock ticks.Clock, logger *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, link: link, clock: clock, logger: logger.With("subsystem", "station")}
}

// EnsureUp returns nil once the link is associated. Attempts are bounded by
// ConnectTimeout and MaxAttempts with exponential backoff between them; giving up
// yields a *ports.LinkError with Timeout set.
func (s *Supervisor) EnsureUp(ctx context.Context, nc *model.NodeContext) error {
	if s.link.IsConnected() {
		nc.Station = model.LinkUp
		return nil
	}

	nc.Station = model.LinkConnecting
	if err := s.link.Activate(); err != nil {
		nc.Station = model.LinkDown
		return &ports.LinkError{Op: "activate", Err: err}
	}
	s.logger.Info("Connecting to WiFi", "ssid", s.cfg.SSID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxElapsedTime = 0 // bounded by ctx and retries

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.associate(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("WiFi connect attempt failed", "attempt", attempt, "err", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		nc.Station = model.LinkDown
		return &ports.LinkError{Op: "connect", Timeout: true, Err: fmt.Errorf("%d attempts: %w", attempt, err)}
	}

	nc.Station = model.LinkUp
	s.logDetails("WiFi connected")
	return nil
}

// associate issues one connect and polls for association until AttemptTimeout.
func (s *Supervisor) associate(ctx context.Context) error {
	if err := s.link.Connect(s.cfg.SSID, s.cfg.Password); err != nil {
		return err
	}
	start := s.clock.Now()
	for {
		if s.link.IsConnected() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if ticks.Due(s.clock.Now(), start, s.cfg.AttemptTimeout) {
			_ = s.link.Disconnect()
			return errNotAssociated
		}
		s.clock.Sleep(s.cfg.PollInterval)
	}
}

// HealthCheck verifies the link and reads its configuration. A dropped link is
// reconnected in place; any failure is returned for the caller to count.
func (s *Supervisor) HealthCheck(ctx context.Context, nc *model.NodeContext) error {
	if !s.link.IsConnected() {
		nc.Station = model.LinkDown
		s.logger.Warn("WiFi connection lost, reconnecting")
		return s.EnsureUp(ctx, nc)
	}
	if _, err := s.link.IfConfig(); err != nil {
		return &ports.LinkError{Op: "ifconfig", Err: err}
	}
	nc.Station = model.LinkUp
	s.logDetails("WiFi status")
	return nil
}

func (s *Supervisor) logDetails(msg string) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	ifc, err := s.link.IfConfig()
	if err != nil {
		return
	}
	attrs := []any{"ip", ifc.IP, "netmask", ifc.Netmask, "gateway", ifc.Gateway, "dns", ifc.DNS}
	if sr, ok := s.link.(ports.SignalReporter); ok {
		if rssi, err := sr.SignalStrength(); err == nil {
			attrs = append(attrs, "rssi", rssi)
		}
	}
	s.logger.Debug(msg, attrs...)
}

// HardReset power-cycles the interface. The link is left Down; the next health
// check or EnsureUp reconnects it.
func (s *Supervisor) HardReset(nc *model.NodeContext) error {
	s.logger.Warn("Resetting WiFi interface")
	nc.Station = model.LinkDown
	if err := s.link.Deactivate(); err != nil {
		return &ports.LinkError{Op: "deactivate", Err: err}
	}
	s.clock.Sleep(s.cfg.ResetPause)
	if err := s.link.Activate(); err != nil {
		return &ports.LinkError{Op: "activate", Err: err}
	}
	return nil
}

// Shutdown disconnects and powers down the interface.
func (s *Supervisor) Shutdown(nc *model.NodeContext) error {
	nc.Station = model.LinkDown
	errs := []error{}
	if err := s.link.Disconnect(); err != nil {
		errs = append(errs, &ports.LinkError{Op: "disconnect", Err: err})
	}
	if err := s.link.Deactivate(); err != nil {
		errs = append(errs, &ports.LinkError{Op: "deactivate", Err: err})
	}
	return errors.Join(errs...)
}
