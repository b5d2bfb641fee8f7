package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports/porttest"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ticks"
)

func newTestSupervisor(link ports.StationLink, clock ticks.Clock) *Supervisor {
	cfg := Config{
		SSID:           "lab",
		Password:       "secret",
		ConnectTimeout: 5 * time.Second,
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		PollInterval:   100 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		ResetPause:     2 * time.Second,
	}
	return NewSupervisor(cfg, link, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newNC() *model.NodeContext {
	return model.NewNodeContext(model.ActuatorState{}, 5, true, 5)
}

func TestEnsureUpAlreadyConnected(t *testing.T) {
	link := &porttest.Station{Connected: true}
	nc := newNC()

	require.NoError(t, newTestSupervisor(link, ticks.NewManualClock(0)).EnsureUp(context.Background(), nc))
	assert.Equal(t, model.LinkUp, nc.Station)
	assert.Zero(t, link.ConnectCalls)
}

func TestEnsureUpWaitsForAssociation(t *testing.T) {
	link := &porttest.Station{ConnectAfterPolls: 4}
	nc := newNC()

	require.NoError(t, newTestSupervisor(link, ticks.NewManualClock(0)).EnsureUp(context.Background(), nc))
	assert.Equal(t, model.LinkUp, nc.Station)
	assert.Equal(t, 1, link.ConnectCalls)
	assert.True(t, link.Active)
}

func TestEnsureUpRetriesThenSucceeds(t *testing.T) {
	// The first attempt never associates within AttemptTimeout (1 s at 100 ms polls).
	link := &porttest.Station{ConnectAfterPolls: 15}
	nc := newNC()

	require.NoError(t, newTestSupervisor(link, ticks.NewManualClock(0)).EnsureUp(context.Background(), nc))
	assert.Equal(t, 2, link.ConnectCalls)
	assert.Equal(t, 1, link.DisconnectCalls)
}

func TestEnsureUpBounded(t *testing.T) {
	link := &porttest.Station{ConnectErr: errors.New("no AP")}
	nc := newNC()

	err := newTestSupervisor(link, ticks.NewManualClock(0)).EnsureUp(context.Background(), nc)
	require.Error(t, err)

	var le *ports.LinkError
	require.True(t, errors.As(err, &le))
	assert.True(t, le.Timeout)
	assert.Equal(t, 3, link.ConnectCalls, "attempts are capped")
	assert.Equal(t, model.LinkDown, nc.Station)
}

func TestEnsureUpHonoursContext(t *testing.T) {
	link := &porttest.Station{ConnectErr: errors.New("no AP")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestSupervisor(link, ticks.NewManualClock(0)).EnsureUp(ctx, newNC())
	var le *ports.LinkError
	require.True(t, errors.As(err, &le))
	assert.LessOrEqual(t, link.ConnectCalls, 1)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		link := &porttest.Station{Connected: true, RSSI: -61}
		nc := newNC()
		require.NoError(t, newTestSupervisor(link, ticks.NewManualClock(0)).HealthCheck(context.Background(), nc))
		assert.Equal(t, model.LinkUp, nc.Station)
	})

	t.Run("ifconfig failure", func(t *testing.T) {
		link := &porttest.Station{Connected: true, IfConfigErr: errors.New("no lease")}
		err := newTestSupervisor(link, ticks.NewManualClock(0)).HealthCheck(context.Background(), newNC())
		var le *ports.LinkError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, "ifconfig", le.Op)
	})

	t.Run("dropped link reconnects", func(t *testing.T) {
		link := &porttest.Station{}
		nc := newNC()
		nc.Station = model.LinkUp
		require.NoError(t, newTestSupervisor(link, ticks.NewManualClock(0)).HealthCheck(context.Background(), nc))
		assert.Equal(t, 1, link.ConnectCalls)
		assert.Equal(t, model.LinkUp, nc.Station)
	})
}

func TestHardReset(t *testing.T) {
	link := &porttest.Station{Connected: true, Active: true}
	clock := ticks.NewManualClock(0)
	nc := newNC()
	nc.Station = model.LinkUp

	require.NoError(t, newTestSupervisor(link, clock).HardReset(nc))
	assert.Equal(t, 1, link.DeactivateCalls)
	assert.Equal(t, 1, link.ActivateCalls)
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Slept())
	assert.Equal(t, model.LinkDown, nc.Station)
}

func TestShutdown(t *testing.T) {
	link := &porttest.Station{Connected: true, Active: true}
	nc := newNC()
	require.NoError(t, newTestSupervisor(link, ticks.NewManualClock(0)).Shutdown(nc))
	assert.False(t, link.Active)
	assert.False(t, link.Connected)
	assert.Equal(t, model.LinkDown, nc.Station)
}
