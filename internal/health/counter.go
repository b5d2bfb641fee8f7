// Package health counts consecutive failures per subsystem and signals escalation.
//
// A Counter behaves like the closed half of a circuit breaker: failures accumulate,
// any success clears them, and reaching the threshold trips it once. Unlike a breaker
// it never stays open; tripping resets the count so the next run of failures starts
// from zero after the caller has taken its recovery action.
package health

// DefaultThreshold is the failure count that triggers escalation.
const DefaultThreshold = 5

// Subsystem tags a counter.
type Subsystem string

const (
	Station Subsystem = "station"
	Bus     Subsystem = "bus"
	Temp    Subsystem = "temp"
)

// Counter is owned by the run loop and is not safe for concurrent use.
type Counter struct {
	subsystem Subsystem
	count     int
	threshold int
}

func NewCounter(s Subsystem, threshold int) *Counter {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Counter{subsystem: s, threshold: threshold}
}

// Fail records one failure. It returns the count including this failure and whether
// the threshold was reached; when it was, the counter is already back at zero.
func (c *Counter) Fail() (count int, escalate bool) {
	c.count++
	count = c.count
	if c.count >= c.threshold {
		c.count = 0
		return count, true
	}
	return count, false
}

// Succeed clears the counter and returns the count it held.
func (c *Counter) Succeed() (previous int) {
	previous = c.count
	c.count = 0
	return previous
}

func (c *Counter) Reset()               { c.count = 0 }
func (c *Counter) Count() int           { return c.count }
func (c *Counter) Threshold() int       { return c.threshold }
func (c *Counter) Subsystem() Subsystem { return c.subsystem }

// Counters is the fixed set the node keeps.
type Counters struct {
	Station *Counter
	Bus     *Counter
	Temp    *Counter
}

func NewCounters(threshold int) Counters {
	return Counters{
		Station: NewCounter(Station, threshold),
		Bus:     NewCounter(Bus, threshold),
		Temp:    NewCounter(Temp, threshold),
	}
}

// Counts returns the current value of every counter.
func (cs Counters) Counts() map[Subsystem]int {
	return map[Subsystem]int{
		Station: cs.Station.Count(),
		Bus:     cs.Bus.Count(),
		Temp:    cs.Temp.Count(),
	}
}
