// Package sim provides simulated collaborators so a node can run on a bench
// machine against a real broker.
package sim

import (
	"errors"
	"math"
	"math/rand"
)

// ====== Tunables ======
const (
	// baseTemp: resting die temperature in °C.
	baseTemp = 38.0

	// pullBack: share of the deviation recovered on each read.
	pullBack = 0.1

	minTemp = -10.0
	maxTemp = 90.0
)

var ErrSimulatedRead = errors.New("simulated sensor fault")

// Temperature is a mean-reverting random walk around baseTemp.
type Temperature struct {
	rng      *rand.Rand
	current  float64
	step     float64
	failRate float64
}

// NewTemperature builds a generator. step is the largest drift per read and
// failRate the probability [0..1] that a read fails.
func NewTemperature(seed int64, step, failRate float64) *Temperature {
	return &Temperature{
		rng:      rand.New(rand.NewSource(seed)),
		current:  baseTemp,
		step:     math.Abs(step),
		failRate: clamp(failRate, 0, 1),
	}
}

func (t *Temperature) ReadRaw() (float64, error) {
	if t.failRate > 0 && t.rng.Float64() < t.failRate {
		return 0, ErrSimulatedRead
	}
	drift := (t.rng.Float64()*2 - 1) * t.step
	t.current += drift - (t.current-baseTemp)*pullBack
	t.current = clamp(t.current, minTemp, maxTemp)
	return t.current, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
