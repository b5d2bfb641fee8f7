// Package node runs the single cooperative loop that drives the station link,
// the bus session, command handling and telemetry.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/sdcc_node/internal/health"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ticks"
)

type Station interface {
	EnsureUp(ctx context.Context, nc *model.NodeContext) error
	HealthCheck(ctx context.Context, nc *model.NodeContext) error
	HardReset(nc *model.NodeContext) error
	Shutdown(nc *model.NodeContext) error
}

type Bus interface {
	EnsureUp(ctx context.Context, nc *model.NodeContext) error
	KeepAlive(ctx context.Context, nc *model.NodeContext) error
	Publish(ctx context.Context, nc *model.NodeContext, payload []byte) error
	PollInbound(nc *model.NodeContext) (ports.Message, bool, error)
	Drop(nc *model.NodeContext)
}

type Commands interface {
	Handle(nc *model.NodeContext, msg ports.Message) (bool, error)
	Blank() error
}

type Telemetry interface {
	SampleIfDue(nc *model.NodeContext, now ticks.Ticks) (float64, bool, error)
	Publish(ctx context.Context, nc *model.NodeContext, pub telemetry.Publisher, value float64, now ticks.Ticks) error
}

// Observer is told about loop events. Calls happen on the loop goroutine.
type Observer interface {
	Failure(s health.Subsystem, err error)
	Escalation(s health.Subsystem)
	Published(temperature float64)
	CommandApplied()
	PayloadRejected()
	Iteration(s model.Snapshot)
}

// SnapshotSink receives a copy of the node state after every iteration.
type SnapshotSink interface {
	Update(s model.Snapshot)
}

type Config struct {
	HealthInterval time.Duration
	Tick           time.Duration
	FailurePause   time.Duration
	PanicPause     time.Duration
}

func (c *Config) applyDefaults() {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.FailurePause <= 0 {
		c.FailurePause = 5 * time.Second
	}
	if c.PanicPause <= 0 {
		c.PanicPause = time.Second
	}
}

// Scheduler owns the NodeContext. It is the only place where recoverable
// failures are logged and counted.
type Scheduler struct {
	cfg       Config
	nc        *model.NodeContext
	clock     ticks.Clock
	station   Station
	bus       Bus
	commands  Commands
	telemetry Telemetry
	logger    *slog.Logger

	bootID   string
	observer Observer
	sinks    []SnapshotSink

	lastHealth ticks.Ticks
}

func New(cfg Config, nc *model.NodeContext, clock ticks.Clock, st Station, b Bus, cmd Commands, tel Telemetry, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		nc:        nc,
		clock:     clock,
		station:   st,
		bus:       b,
		commands:  cmd,
		telemetry: tel,
		logger:    logger,
		observer:  nopObserver{},
	}
}

func (s *Scheduler) WithObserver(o Observer) *Scheduler {
	s.observer = o
	return s
}

func (s *Scheduler) WithSinks(sinks ...SnapshotSink) *Scheduler {
	s.sinks = append(s.sinks, sinks...)
	return s
}

func (s *Scheduler) WithBootID(id string) *Scheduler {
	s.bootID = id
	return s
}

// Context exposes the node state for tests and the boot summary.
func (s *Scheduler) Context() *model.NodeContext { return s.nc }

// Boot turns the strip off and brings both links up. Any failure is fatal.
func (s *Scheduler) Boot(ctx context.Context) error {
	if err := s.commands.Blank(); err != nil {
		return fmt.Errorf("actuator init: %w", err)
	}
	s.logger.Info("Actuator initialised, all pixels off")

	if err := s.station.EnsureUp(ctx, s.nc); err != nil {
		return fmt.Errorf("station connect: %w", err)
	}
	if err := s.bus.EnsureUp(ctx, s.nc); err != nil {
		return fmt.Errorf("bus connect: %w", err)
	}
	s.lastHealth = s.clock.Now()
	s.publish()
	s.logger.Info("Node ready, entering run loop")
	return nil
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		s.safeStep(ctx)
	}
	s.logger.Info("Run loop stopped")
}

// safeStep keeps a panic inside one iteration from ending the loop.
func (s *Scheduler) safeStep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Unexpected error in run loop", "panic", fmt.Sprint(r))
			s.clock.Sleep(s.cfg.PanicPause)
		}
	}()
	s.Step(ctx)
}

// Step runs one iteration of the loop.
func (s *Scheduler) Step(ctx context.Context) {
	defer s.publish()
	now := s.clock.Now()

	// 1. station health
	if ticks.Due(now, s.lastHealth, s.cfg.HealthInterval) {
		s.lastHealth = now
		if err := s.station.HealthCheck(ctx, s.nc); err != nil {
			if s.fail(health.Station, err) {
				if rerr := s.station.HardReset(s.nc); rerr != nil {
					s.logger.Error("WiFi reset failed", "subsystem", health.Station, "err", rerr)
				}
			}
			s.clock.Sleep(s.cfg.FailurePause)
			return
		}
		s.recover(health.Station)
	}

	// 2. bus session
	wasUp := s.nc.Bus == model.LinkUp
	if err := s.bus.EnsureUp(ctx, s.nc); err != nil {
		if s.fail(health.Bus, err) {
			s.bus.Drop(s.nc)
		}
		s.clock.Sleep(s.cfg.FailurePause)
		return
	}
	if !wasUp {
		s.recover(health.Bus)
	}

	// 3. keep-alive
	if err := s.bus.KeepAlive(ctx, s.nc); err != nil {
		if s.fail(health.Bus, err) {
			s.bus.Drop(s.nc)
		}
	}

	// 4. one inbound command
	s.dispatch()

	// 5. telemetry
	s.sample(ctx, now)

	s.clock.Sleep(s.cfg.Tick)
}

func (s *Scheduler) dispatch() {
	msg, ok, err := s.bus.PollInbound(s.nc)
	if err != nil {
		if s.fail(health.Bus, err) {
			s.bus.Drop(s.nc)
		}
		return
	}
	if !ok {
		return
	}

	applied, err := s.commands.Handle(s.nc, msg)
	var pe *ports.PayloadError
	switch {
	case errors.As(err, &pe):
		s.logger.Error("Invalid control message discarded", "subsystem", "command", "err", err)
		s.observer.PayloadRejected()
	case err != nil:
		s.logger.Error("Actuator write failed", "subsystem", "command", "err", err)
	case applied:
		s.observer.CommandApplied()
	}
}

func (s *Scheduler) sample(ctx context.Context, now ticks.Ticks) {
	value, fired, err := s.telemetry.SampleIfDue(s.nc, now)
	if err != nil {
		if s.fail(health.Temp, err) {
			s.logger.Error("Too many temperature read failures, skipping sample", "subsystem", health.Temp)
		}
		return
	}
	if !fired {
		return
	}

	if err := s.telemetry.Publish(ctx, s.nc, s.bus, value, now); err != nil {
		var be *ports.BusError
		if errors.As(err, &be) && be.Retried {
			if s.fail(health.Bus, err) {
				s.bus.Drop(s.nc)
			}
		}
		if s.fail(health.Temp, err) {
			s.logger.Error("Too many publish failures, dropping MQTT client", "subsystem", health.Temp)
			s.bus.Drop(s.nc)
			s.nc.Counters.Bus.Reset()
		}
		return
	}
	s.recover(health.Temp)
	s.recover(health.Bus)
	if s.nc.LastTemperature != nil {
		s.observer.Published(*s.nc.LastTemperature)
	}
}

func (s *Scheduler) counter(sub health.Subsystem) *health.Counter {
	switch sub {
	case health.Station:
		return s.nc.Counters.Station
	case health.Bus:
		return s.nc.Counters.Bus
	default:
		return s.nc.Counters.Temp
	}
}

// fail counts one failure and reports whether it escalated.
func (s *Scheduler) fail(sub health.Subsystem, err error) bool {
	c := s.counter(sub)
	n, escalate := c.Fail()
	s.logger.Error("Operation failed", "subsystem", sub, "err", err, "count", n, "threshold", c.Threshold())
	s.observer.Failure(sub, err)
	if escalate {
		s.logger.Error("Error threshold reached, escalating", "subsystem", sub)
		s.observer.Escalation(sub)
	}
	return escalate
}

func (s *Scheduler) recover(sub health.Subsystem) {
	if prev := s.counter(sub).Succeed(); prev > 0 {
		s.logger.Info("Recovered, error counter reset", "subsystem", sub, "previous", prev)
	}
}

func (s *Scheduler) publish() {
	snap := s.nc.Snapshot(s.bootID, time.Now())
	s.observer.Iteration(snap)
	for _, sink := range s.sinks {
		sink.Update(snap)
	}
}

// Shutdown turns the strip off and closes both links. Each step is attempted
// even if an earlier one failed.
func (s *Scheduler) Shutdown() {
	s.logger.Info("Shutting down")
	if err := s.commands.Blank(); err != nil {
		s.logger.Warn("Could not turn pixels off", "err", err)
	} else {
		s.logger.Info("Pixels off")
	}
	s.bus.Drop(s.nc)
	s.logger.Info("MQTT disconnected")
	if err := s.station.Shutdown(s.nc); err != nil {
		s.logger.Warn("WiFi shutdown incomplete", "err", err)
	} else {
		s.logger.Info("WiFi disconnected")
	}
	s.publish()
}

type nopObserver struct{}

func (nopObserver) Failure(health.Subsystem, error) {}
func (nopObserver) Escalation(health.Subsystem)     {}
func (nopObserver) Published(float64)               {}
func (nopObserver) CommandApplied()                 {}
func (nopObserver) PayloadRejected()                {}
func (nopObserver) Iteration(model.Snapshot)        {}
