// Package command applies remote control messages to the pixel strip.
package command

import (
	"fmt"
	"log/slog"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/pkg/dedup"
)

type Processor struct {
	topic  string
	driver ports.ActuatorDriver
	dedup  *dedup.Deduper
	logger *slog.Logger
}

// NewProcessor handles messages for controlTopic. d may be nil to disable
// redelivery suppression.
func NewProcessor(controlTopic string, driver ports.ActuatorDriver, d *dedup.Deduper, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{topic: controlTopic, driver: driver, dedup: d, logger: logger.With("subsystem", "command")}
}

// Handle validates one inbound message and, if it changes the actuator state,
// writes the new colour to the strip. applied reports a hardware write. A bad
// payload is returned as *ports.PayloadError and leaves the state untouched.
func (p *Processor) Handle(nc *model.NodeContext, msg ports.Message) (applied bool, err error) {
	if msg.Topic != p.topic {
		p.logger.Warn("Message on unexpected topic", "topic", msg.Topic)
		return false, nil
	}

	key := dedup.Key(msg.Payload)
	if msg.Duplicate && p.dedup != nil && p.dedup.Seen(key) {
		p.logger.Debug("Redelivered control message dropped")
		return false, nil
	}

	cm, unknown, err := messages.ParseControl(msg.Payload)
	if err != nil {
		return false, err
	}
	for _, k := range unknown {
		p.logger.Warn("Unknown control key ignored", "key", k)
	}
	if cm.Empty() {
		p.logger.Debug("Control message carries no recognised key")
		p.handled(key)
		return false, nil
	}

	next, changed := stage(nc.Actuator, cm)
	if !changed {
		p.logger.Debug("Actuator state unchanged")
		p.handled(key)
		return false, nil
	}

	// A failed write is not remembered so a redelivery gets another try.
	if err := p.Render(next); err != nil {
		return false, err
	}
	nc.Actuator = next
	p.handled(key)
	p.logger.Info("Actuator state updated", "r", next.R, "g", next.G, "b", next.B, "brightness", next.Brightness)
	return true, nil
}

func (p *Processor) handled(key string) {
	if p.dedup != nil {
		p.dedup.Remember(key)
	}
}

// stage overlays the present fields of cm on cur.
func stage(cur model.ActuatorState, cm messages.ControlMessage) (model.ActuatorState, bool) {
	next := cur
	if cm.R != nil {
		next.R = *cm.R
	}
	if cm.G != nil {
		next.G = *cm.G
	}
	if cm.B != nil {
		next.B = *cm.B
	}
	if cm.Brightness != nil {
		next.Brightness = *cm.Brightness
	}
	return next, next != cur
}

// Render writes the brightness-scaled colour to every pixel in one frame.
func (p *Processor) Render(s model.ActuatorState) error {
	r, g, b := s.Scaled()
	c := ports.RGB{R: r, G: g, B: b}
	for i := 0; i < p.driver.Len(); i++ {
		if err := p.driver.SetPixel(i, c); err != nil {
			return fmt.Errorf("set pixel %d: %w", i, err)
		}
	}
	if err := p.driver.Commit(); err != nil {
		return fmt.Errorf("commit frame: %w", err)
	}
	p.logger.Debug("Frame written", "r", r, "g", g, "b", b, "pixels", p.driver.Len())
	return nil
}

// Blank turns every pixel off without touching the commanded state.
func (p *Processor) Blank() error {
	return p.Render(model.ActuatorState{})
}
