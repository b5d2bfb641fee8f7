package command

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports/porttest"
	"github.com/LeonardoBeccarini/sdcc_node/pkg/dedup"
)

const topic = "esp32/s3/control"

func newTestProcessor(strip *porttest.Strip, d *dedup.Deduper) *Processor {
	return NewProcessor(topic, strip, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newNC() *model.NodeContext {
	return model.NewNodeContext(model.ActuatorState{R: 10, G: 20, B: 30, Brightness: 0.5}, 5, true, 5)
}

func msg(payload string) ports.Message {
	return ports.Message{Topic: topic, Payload: []byte(payload)}
}

func TestHandleClampsAndWritesOnce(t *testing.T) {
	strip := porttest.NewStrip(3)
	p := newTestProcessor(strip, nil)
	nc := newNC()

	applied, err := p.Handle(nc, msg(`{"r":999,"brightness":2.0}`))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.ActuatorState{R: 255, G: 20, B: 30, Brightness: 1}, nc.Actuator)

	require.Len(t, strip.Frames, 1)
	for _, px := range strip.Pixels {
		assert.Equal(t, ports.RGB{R: 255, G: 20, B: 30}, px)
	}
}

func TestHandleIdempotent(t *testing.T) {
	strip := porttest.NewStrip(1)
	p := newTestProcessor(strip, nil)
	nc := newNC()

	for i := 0; i < 2; i++ {
		_, err := p.Handle(nc, msg(`{"g":200}`))
		require.NoError(t, err)
	}
	assert.Len(t, strip.Frames, 1, "a repeated command does not touch the hardware")
}

func TestHandleBrightnessScaling(t *testing.T) {
	strip := porttest.NewStrip(2)
	p := newTestProcessor(strip, nil)
	nc := newNC()

	_, err := p.Handle(nc, msg(`{"r":255,"g":100,"b":3,"brightness":0.5}`))
	require.NoError(t, err)
	assert.Equal(t, ports.RGB{R: 127, G: 50, B: 1}, strip.Pixels[1])
}

func TestHandleRejectsBadPayload(t *testing.T) {
	strip := porttest.NewStrip(1)
	p := newTestProcessor(strip, nil)
	nc := newNC()
	before := nc.Actuator

	for _, payload := range []string{`{not valid json`, `[1,2]`, `"r"`, `{"r":"bright"}`} {
		_, err := p.Handle(nc, msg(payload))
		var pe *ports.PayloadError
		require.True(t, errors.As(err, &pe), payload)
	}
	assert.Equal(t, before, nc.Actuator)
	assert.Empty(t, strip.Frames)
}

func TestHandleIgnoresForeignTopicAndUnknownKeys(t *testing.T) {
	strip := porttest.NewStrip(1)
	p := newTestProcessor(strip, nil)
	nc := newNC()

	applied, err := p.Handle(nc, ports.Message{Topic: "other/topic", Payload: []byte(`{"r":1}`)})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = p.Handle(nc, msg(`{"mode":"rainbow"}`))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, strip.Frames)
}

func TestHandleKeepsStateWhenWriteFails(t *testing.T) {
	strip := porttest.NewStrip(1)
	strip.CommitErr = errors.New("bus fault")
	p := newTestProcessor(strip, nil)
	nc := newNC()
	before := nc.Actuator

	applied, err := p.Handle(nc, msg(`{"b":1}`))
	require.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, before, nc.Actuator)
}

func TestHandleDropsRedelivery(t *testing.T) {
	strip := porttest.NewStrip(1)
	p := newTestProcessor(strip, dedup.New(time.Minute, 16))
	nc := newNC()

	_, err := p.Handle(nc, msg(`{"r":1}`))
	require.NoError(t, err)
	nc.Actuator.R = 77 // changed locally since

	dup := msg(`{"r":1}`)
	dup.Duplicate = true
	applied, err := p.Handle(nc, dup)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 77, nc.Actuator.R)

	// the same payload sent fresh is still honoured
	applied, err = p.Handle(nc, msg(`{"r":1}`))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestHandleRetriesRedeliveryAfterWriteFailure(t *testing.T) {
	strip := porttest.NewStrip(1)
	strip.CommitErr = errors.New("bus glitch")
	p := newTestProcessor(strip, dedup.New(time.Minute, 16))
	nc := newNC()

	_, err := p.Handle(nc, msg(`{"r":200}`))
	require.Error(t, err)
	assert.Equal(t, 10, nc.Actuator.R)

	strip.CommitErr = nil
	dup := msg(`{"r":200}`)
	dup.Duplicate = true
	applied, err := p.Handle(nc, dup)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 200, nc.Actuator.R)
	assert.Len(t, strip.Frames, 1)

	// once applied, a further redelivery is dropped
	applied, err = p.Handle(nc, dup)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, strip.Frames, 1)
}

func TestHandleAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	strip := porttest.NewStrip(1)
	p := newTestProcessor(strip, nil)
	nc := newNC()

	for i := 0; i < 200; i++ {
		payload := []byte(`{"r":` + jsonNum(rng) + `,"g":` + jsonNum(rng) + `,"b":` + jsonNum(rng) + `,"brightness":` + jsonNum(rng) + `}`)
		_, err := p.Handle(nc, ports.Message{Topic: topic, Payload: payload})
		require.NoError(t, err)

		a := nc.Actuator
		for _, c := range []int{a.R, a.G, a.B} {
			assert.GreaterOrEqual(t, c, 0)
			assert.LessOrEqual(t, c, 255)
		}
		assert.GreaterOrEqual(t, a.Brightness, 0.0)
		assert.LessOrEqual(t, a.Brightness, 1.0)
	}
}

func jsonNum(rng *rand.Rand) string {
	v := (rng.Float64() - 0.5) * 2000
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestBlank(t *testing.T) {
	strip := porttest.NewStrip(2)
	p := newTestProcessor(strip, nil)

	require.NoError(t, p.Blank())
	assert.Equal(t, []ports.RGB{{}, {}}, strip.Pixels)
}
