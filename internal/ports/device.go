package ports

// RGB is one pixel colour.
type RGB struct {
	R, G, B uint8
}

// ActuatorDriver is an addressable pixel strip. SetPixel only stages; Commit writes the frame.
type ActuatorDriver interface {
	Len() int
	SetPixel(index int, c RGB) error
	Commit() error
}

// SensorReader returns one raw temperature sample in °C.
type SensorReader interface {
	ReadRaw() (float64, error)
}

// ADC returns one raw conversion.
type ADC interface {
	Read() (int, error)
}
