package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/sdcc_node/internal/health"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
)

// MirrorStatus is implemented by the optional telemetry mirror.
type MirrorStatus interface {
	LastErrorAge() time.Duration
	BreakerState() string
	Written() int64
}

type healthHandler struct {
	store  *Store
	mirror MirrorStatus
}

func NewHealthHandler(s *Store, mirror MirrorStatus) http.Handler {
	return &healthHandler{store: s, mirror: mirror}
}

type healthBody struct {
	Status          string                   `json:"status"`
	BootID          string                   `json:"boot_id,omitempty"`
	Station         model.LinkState          `json:"station"`
	Bus             model.LinkState          `json:"bus"`
	ErrorCounts     map[health.Subsystem]int `json:"error_counts,omitempty"`
	Actuator        model.ActuatorState      `json:"actuator"`
	LastTemperature *float64                 `json:"last_temperature,omitempty"`
	MirrorErrorAgeS *float64                 `json:"mirror_last_error_age_sec,omitempty"`
	MirrorBreaker   string                   `json:"mirror_breaker,omitempty"`
	MirrorWritten   *int64                   `json:"mirror_written,omitempty"`
}

// Classify: ok with both links up and no pending errors, degraded while at least one link is up.
func Classify(s model.Snapshot) string {
	clean := true
	for _, c := range s.Counts {
		if c > 0 {
			clean = false
		}
	}
	switch {
	case s.Station == model.LinkUp && s.Bus == model.LinkUp && clean:
		return "ok"
	case s.Station == model.LinkUp || s.Bus == model.LinkUp:
		return "degraded"
	default:
		return "down"
	}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.store.Latest()
	body := healthBody{Status: "down"}
	if ok {
		body = healthBody{
			Status:          Classify(snap),
			BootID:          snap.BootID,
			Station:         snap.Station,
			Bus:             snap.Bus,
			ErrorCounts:     snap.Counts,
			Actuator:        snap.Actuator,
			LastTemperature: snap.LastTemperature,
		}
	}
	if h.mirror != nil {
		age := h.mirror.LastErrorAge().Seconds()
		written := h.mirror.Written()
		body.MirrorErrorAgeS = &age
		body.MirrorBreaker = h.mirror.BreakerState()
		body.MirrorWritten = &written
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// readyHandler serves /readyz: 200 only when both links are up.
type readyHandler struct {
	store *Store
}

func NewReadyHandler(s *Store) http.Handler {
	return &readyHandler{store: s}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.store.Latest()
	ready := ok && snap.Station == model.LinkUp && snap.Bus == model.LinkUp
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}

// NewMux wires /healthz, /readyz and /metrics.
func NewMux(s *Store, mirror MirrorStatus, g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", NewHealthHandler(s, mirror))
	mux.Handle("/readyz", NewReadyHandler(s))
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}
