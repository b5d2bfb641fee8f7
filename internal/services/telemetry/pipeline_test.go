package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports/porttest"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ticks"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingPublisher struct {
	payloads [][]byte
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, _ *model.NodeContext, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, payload)
	return nil
}

type recordingMirror struct {
	got []messages.TelemetryMessage
	err error
}

func (r *recordingMirror) Record(_ context.Context, m messages.TelemetryMessage) error {
	r.got = append(r.got, m)
	return r.err
}

func TestSampleIfDueInterval(t *testing.T) {
	sensor := &porttest.Sensor{Values: []float64{20}}
	p := NewPipeline(Config{Interval: 15 * time.Second}, sensor, nil, 1000, discard)
	nc := model.NewNodeContext(model.ActuatorState{}, 5, false, 5)

	_, fired, err := p.SampleIfDue(nc, 1000+14_999)
	require.NoError(t, err)
	assert.False(t, fired)

	v, fired, err := p.SampleIfDue(nc, 1000+15_000)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 20.0, v)

	_, fired, _ = p.SampleIfDue(nc, 1000+15_001)
	assert.False(t, fired, "timer rearmed at the fire")
}

func TestSampleIfDueAcrossWrap(t *testing.T) {
	start := ticks.Ticks(^uint32(0) - 5_000)
	p := NewPipeline(Config{Interval: 15 * time.Second}, &porttest.Sensor{Values: []float64{1}}, nil, start, discard)
	nc := model.NewNodeContext(model.ActuatorState{}, 5, false, 5)

	_, fired, _ := p.SampleIfDue(nc, start+9_000) // wrapped, 9 s elapsed
	assert.False(t, fired)
	_, fired, _ = p.SampleIfDue(nc, start+15_000)
	assert.True(t, fired)
}

func TestCalibrationAndWarmUp(t *testing.T) {
	sensor := &porttest.Sensor{Values: []float64{24, 25, 26, 30}}
	p := NewPipeline(Config{Interval: time.Second, Offset: -1}, sensor, nil, 0, discard)
	nc := model.NewNodeContext(model.ActuatorState{}, 3, true, 5)

	var got []float64
	for i := 1; i <= 4; i++ {
		v, fired, err := p.SampleIfDue(nc, ticks.Ticks(i*1000))
		require.NoError(t, err)
		require.True(t, fired)
		got = append(got, v)
	}
	assert.InDeltaSlice(t, []float64{23, 24, 24, 26}, got, 1e-9)
	assert.Equal(t, 3, nc.Window.Len())
}

func TestSensorFailureSkipsCycle(t *testing.T) {
	sensor := &porttest.Sensor{Errs: []error{errors.New("adc busy")}, Values: []float64{21}}
	p := NewPipeline(Config{Interval: time.Second}, sensor, nil, 0, discard)
	nc := model.NewNodeContext(model.ActuatorState{}, 3, true, 5)

	_, fired, err := p.SampleIfDue(nc, 1000)
	assert.True(t, fired)
	var se *ports.SensorReadError
	require.True(t, errors.As(err, &se))
	assert.Zero(t, nc.Window.Len(), "failed read never reaches the window")

	_, fired, _ = p.SampleIfDue(nc, 1500)
	assert.False(t, fired, "the failed read consumed the slot")
}

func TestPublishBuildsMessage(t *testing.T) {
	pub := &recordingPublisher{}
	mirror := &recordingMirror{}
	cfg := Config{Interval: time.Second, DeviceID: "esp32s3-01", IncludeBattery: true}
	p := NewPipeline(cfg, &porttest.Sensor{}, porttest.ADC{Raw: 2048}, 0, discard).WithMirror(mirror)
	nc := model.NewNodeContext(model.ActuatorState{}, 3, true, 5)

	require.NoError(t, p.Publish(context.Background(), nc, pub, 23.456, 123456))
	require.Len(t, pub.payloads, 1)

	var msg messages.TelemetryMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, 23.46, msg.Temperature)
	assert.Equal(t, uint32(123456), msg.Timestamp)
	assert.Equal(t, "esp32s3-01", msg.DeviceID)
	assert.Equal(t, "°C", msg.Unit)
	require.NotNil(t, msg.Battery)
	assert.Equal(t, 1.65, *msg.Battery)

	require.NotNil(t, nc.LastTemperature)
	assert.Equal(t, 23.46, *nc.LastTemperature)
	assert.Len(t, mirror.got, 1)
}

func TestPublishBatteryFailureOmitsField(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPipeline(Config{IncludeBattery: true}, &porttest.Sensor{}, porttest.ADC{Err: errors.New("no adc")}, 0, discard)

	require.NoError(t, p.Publish(context.Background(), model.NewNodeContext(model.ActuatorState{}, 1, false, 5), pub, 20, 1))
	assert.NotContains(t, string(pub.payloads[0]), "battery")
}

func TestPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: &ports.BusError{Op: "publish", Retried: true, Err: ports.ErrNotConnected}}
	mirror := &recordingMirror{}
	p := NewPipeline(Config{}, &porttest.Sensor{}, nil, 0, discard).WithMirror(mirror)
	nc := model.NewNodeContext(model.ActuatorState{}, 1, false, 5)

	err := p.Publish(context.Background(), nc, pub, 20, 1)
	var be *ports.BusError
	require.True(t, errors.As(err, &be))
	assert.Nil(t, nc.LastTemperature)
	assert.Empty(t, mirror.got)
}

func TestMirrorFailureDoesNotFailPublish(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPipeline(Config{}, &porttest.Sensor{}, nil, 0, discard).WithMirror(&recordingMirror{err: errors.New("influx down")})

	assert.NoError(t, p.Publish(context.Background(), model.NewNodeContext(model.ActuatorState{}, 1, false, 5), pub, 20, 1))
	assert.Len(t, pub.payloads, 1)
}
