package model

import (
	"time"

	"github.com/LeonardoBeccarini/sdcc_node/internal/health"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model/messages"
)

// Aliases exposing the common types to the services.

type (
	LinkState        = entities.LinkState
	ActuatorState    = entities.ActuatorState
	SampleWindow     = entities.SampleWindow
	TelemetryMessage = messages.TelemetryMessage
	ControlMessage   = messages.ControlMessage
)

const (
	LinkDown       = entities.LinkDown
	LinkConnecting = entities.LinkConnecting
	LinkUp         = entities.LinkUp
)

// NodeContext is the single mutable state record of the node. The scheduler owns
// it and hands it by pointer to each component in turn; nothing else holds it.
type NodeContext struct {
	Station  LinkState
	Bus      LinkState
	Actuator ActuatorState
	Window   *SampleWindow // nil when filtering is disabled
	Counters health.Counters

	LastTemperature *float64
}

func NewNodeContext(initial ActuatorState, window int, filter bool, threshold int) *NodeContext {
	nc := &NodeContext{
		Station:  LinkDown,
		Bus:      LinkDown,
		Actuator: initial,
		Counters: health.NewCounters(threshold),
	}
	if filter {
		nc.Window = entities.NewSampleWindow(window)
	}
	return nc
}

// Snapshot is a read-only copy of NodeContext published after every iteration
// for observers that live on other goroutines.
type Snapshot struct {
	BootID          string                   `json:"boot_id"`
	Station         LinkState                `json:"station"`
	Bus             LinkState                `json:"bus"`
	Actuator        ActuatorState            `json:"actuator"`
	Counts          map[health.Subsystem]int `json:"error_counts"`
	LastTemperature *float64                 `json:"last_temperature,omitempty"`
	Taken           time.Time                `json:"taken"`
}

func (nc *NodeContext) Snapshot(bootID string, now time.Time) Snapshot {
	s := Snapshot{
		BootID:   bootID,
		Station:  nc.Station,
		Bus:      nc.Bus,
		Actuator: nc.Actuator,
		Counts:   nc.Counters.Counts(),
		Taken:    now,
	}
	if nc.LastTemperature != nil {
		v := *nc.LastTemperature
		s.LastTemperature = &v
	}
	return s
}
