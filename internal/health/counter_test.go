package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterEscalatesAtThreshold(t *testing.T) {
	c := NewCounter(Bus, 5)

	for i := 1; i <= 4; i++ {
		count, escalate := c.Fail()
		assert.Equal(t, i, count)
		assert.False(t, escalate, "failure %d must not escalate", i)
	}

	count, escalate := c.Fail()
	assert.Equal(t, 5, count)
	assert.True(t, escalate)
	assert.Equal(t, 0, c.Count(), "escalation resets the counter")

	_, escalate = c.Fail()
	assert.False(t, escalate, "a new run starts from zero")
}

func TestCounterSucceedResets(t *testing.T) {
	c := NewCounter(Temp, 5)
	c.Fail()
	c.Fail()
	c.Fail()

	assert.Equal(t, 3, c.Succeed())
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, 0, c.Succeed())
}

func TestCounterDefaultThreshold(t *testing.T) {
	c := NewCounter(Station, 0)
	assert.Equal(t, DefaultThreshold, c.Threshold())
	assert.Equal(t, Station, c.Subsystem())
}

func TestCountersSnapshot(t *testing.T) {
	cs := NewCounters(3)
	cs.Bus.Fail()
	cs.Temp.Fail()
	cs.Temp.Fail()

	assert.Equal(t, map[Subsystem]int{Station: 0, Bus: 1, Temp: 2}, cs.Counts())
}
