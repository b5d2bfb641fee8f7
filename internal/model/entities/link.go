package entities

// LinkState is the state of one network link. Per connect attempt it only moves
// Down -> Connecting -> Up, or Connecting -> Down on failure.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkConnecting
	LinkUp
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkUp:
		return "up"
	default:
		return "down"
	}
}

func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
