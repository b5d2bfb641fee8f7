package entities

// SampleWindow is a FIFO of the most recent calibrated samples.
type SampleWindow struct {
	capacity int
	samples  []float64
}

func NewSampleWindow(capacity int) *SampleWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleWindow{capacity: capacity, samples: make([]float64, 0, capacity+1)}
}

// Push appends v and evicts the oldest sample once the window would exceed capacity.
func (w *SampleWindow) Push(v float64) {
	w.samples = append(w.samples, v)
	if len(w.samples) > w.capacity {
		w.samples = append(w.samples[:0], w.samples[1:]...)
	}
}

func (w *SampleWindow) Len() int      { return len(w.samples) }
func (w *SampleWindow) Capacity() int { return w.capacity }
func (w *SampleWindow) Full() bool    { return len(w.samples) >= w.capacity }

// Mean is the arithmetic mean of the held samples, 0 when empty.
func (w *SampleWindow) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// Samples returns a copy, oldest first.
func (w *SampleWindow) Samples() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}
