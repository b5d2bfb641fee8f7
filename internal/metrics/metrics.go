// Package metrics exposes the node's run-loop counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/sdcc_node/internal/health"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
)

const namespace = "sdcc_node"

type Node struct {
	failures    *prometheus.CounterVec
	escalations *prometheus.CounterVec
	linkUp      *prometheus.GaugeVec
	errorCount  *prometheus.GaugeVec
	temperature prometheus.Gauge
	published   prometheus.Counter
	commands    prometheus.Counter
	rejected    prometheus.Counter
}

func NewNode(reg prometheus.Registerer) *Node {
	n := &Node{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Recoverable failures by subsystem.",
		}, []string{"subsystem"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Error counters that reached their threshold.",
		}, []string{"subsystem"}),
		linkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 when the link is up.",
		}, []string{"link"}),
		errorCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error_count",
			Help:      "Current consecutive failure count.",
		}, []string{"subsystem"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last published temperature.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_published_total",
			Help:      "Telemetry messages accepted by the broker.",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_applied_total",
			Help:      "Control messages that changed the actuator.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_rejected_total",
			Help:      "Control messages discarded as malformed.",
		}),
	}
	reg.MustRegister(n.failures, n.escalations, n.linkUp, n.errorCount, n.temperature, n.published, n.commands, n.rejected)
	return n
}

func (n *Node) Failure(s health.Subsystem, _ error) {
	n.failures.WithLabelValues(string(s)).Inc()
}

func (n *Node) Escalation(s health.Subsystem) {
	n.escalations.WithLabelValues(string(s)).Inc()
}

func (n *Node) Published(temperature float64) {
	n.published.Inc()
	n.temperature.Set(temperature)
}

func (n *Node) CommandApplied()  { n.commands.Inc() }
func (n *Node) PayloadRejected() { n.rejected.Inc() }

// Iteration refreshes the gauges from a loop snapshot.
func (n *Node) Iteration(s model.Snapshot) {
	n.linkUp.WithLabelValues("station").Set(up(s.Station))
	n.linkUp.WithLabelValues("bus").Set(up(s.Bus))
	for sub, c := range s.Counts {
		n.errorCount.WithLabelValues(string(sub)).Set(float64(c))
	}
}

func up(s model.LinkState) float64 {
	if s == model.LinkUp {
		return 1
	}
	return 0
}
