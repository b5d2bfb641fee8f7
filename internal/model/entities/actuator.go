package entities

// ActuatorState is the commanded colour of the pixel strip.
type ActuatorState struct {
	R          int     `json:"r"`
	G          int     `json:"g"`
	B          int     `json:"b"`
	Brightness float64 `json:"brightness"`
}

// ClampChannel bounds a colour channel to [0,255].
func ClampChannel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// ClampBrightness bounds brightness to [0,1].
func ClampBrightness(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scaled returns the channels multiplied by brightness, truncated and re-clamped.
func (s ActuatorState) Scaled() (r, g, b uint8) {
	scale := func(c int) uint8 {
		return uint8(ClampChannel(int(float64(c) * s.Brightness)))
	}
	return scale(s.R), scale(s.G), scale(s.B)
}
