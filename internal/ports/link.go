package ports

// IfConfig is the IP configuration of the station interface.
type IfConfig struct {
	IP      string
	Netmask string
	Gateway string
	DNS     string
}

// StationLink is the node's outbound network interface (e.g. a WLAN radio in station mode).
type StationLink interface {
	Activate() error
	Deactivate() error
	Connect(ssid, password string) error
	IsConnected() bool
	IfConfig() (IfConfig, error)
	Disconnect() error
}

// SignalReporter is implemented by links that can report the received signal strength.
type SignalReporter interface {
	SignalStrength() (int, error)
}
