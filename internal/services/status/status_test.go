package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sdcc_node/internal/health"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
)

func snapshot(station, bus model.LinkState, busErrs int) model.Snapshot {
	temp := 22.25
	return model.Snapshot{
		BootID:          "b-1",
		Station:         station,
		Bus:             bus,
		Actuator:        model.ActuatorState{R: 1, G: 2, B: 3, Brightness: 0.5},
		Counts:          map[health.Subsystem]int{health.Station: 0, health.Bus: busErrs, health.Temp: 0},
		LastTemperature: &temp,
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "ok", Classify(snapshot(model.LinkUp, model.LinkUp, 0)))
	assert.Equal(t, "degraded", Classify(snapshot(model.LinkUp, model.LinkUp, 2)))
	assert.Equal(t, "degraded", Classify(snapshot(model.LinkUp, model.LinkDown, 0)))
	assert.Equal(t, "down", Classify(snapshot(model.LinkDown, model.LinkConnecting, 0)))
}

type fixedMirror struct {
	age     time.Duration
	state   string
	written int64
}

func (f fixedMirror) LastErrorAge() time.Duration { return f.age }
func (f fixedMirror) BreakerState() string        { return f.state }
func (f fixedMirror) Written() int64              { return f.written }

func TestHealthz(t *testing.T) {
	store := NewStore()
	mux := NewMux(store, fixedMirror{age: 90 * time.Second, state: "half-open", written: 12}, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, rec.Body.String(), `"status":"down"`, "no snapshot yet")

	store.Update(snapshot(model.LinkUp, model.LinkUp, 0))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "up", body["station"])
	assert.Equal(t, "b-1", body["boot_id"])
	assert.Equal(t, 22.25, body["last_temperature"])
	assert.Equal(t, 90.0, body["mirror_last_error_age_sec"])
	assert.Equal(t, "half-open", body["mirror_breaker"])
	assert.Equal(t, 12.0, body["mirror_written"])
}

func TestReadyz(t *testing.T) {
	store := NewStore()
	h := NewReadyHandler(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store.Update(snapshot(model.LinkUp, model.LinkDown, 0))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store.Update(snapshot(model.LinkUp, model.LinkUp, 4))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "x"})
	reg.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	NewMux(NewStore(), nil, reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "probe_total 1")
}

func TestGRPCReporter(t *testing.T) {
	srv := grpchealth.NewServer()
	r := NewGRPCReporter(srv)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceNode))

	r.Update(snapshot(model.LinkUp, model.LinkDown, 0))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceStation))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceBus))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceNode))

	r.Update(snapshot(model.LinkUp, model.LinkUp, 0))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceNode))
}
