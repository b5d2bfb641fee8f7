// Package porttest provides scripted in-memory implementations of the ports
// interfaces for tests.
package porttest

import (
	"context"
	"errors"

	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
)

// Station is a scripted StationLink.
type Station struct {
	Active    bool
	Connected bool

	// ConnectErr is returned by Connect. ConnectAfterPolls, when >0, makes
	// IsConnected report true only after that many polls made while a connect
	// is pending, counted across attempts.
	ConnectErr        error
	ConnectAfterPolls int
	IfConfigErr       error
	RSSI              int

	ConnectCalls    int
	ActivateCalls   int
	DeactivateCalls int
	DisconnectCalls int
	polls           int
	connecting      bool
}

func (s *Station) Activate() error   { s.ActivateCalls++; s.Active = true; return nil }
func (s *Station) Deactivate() error { s.DeactivateCalls++; s.Active = false; s.Connected = false; return nil }

func (s *Station) Connect(string, string) error {
	s.ConnectCalls++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connecting = true
	if s.ConnectAfterPolls <= 0 {
		s.Connected = true
	}
	return nil
}

func (s *Station) IsConnected() bool {
	if s.connecting && !s.Connected {
		s.polls++
		if s.polls >= s.ConnectAfterPolls {
			s.Connected = true
		}
	}
	return s.Connected
}

func (s *Station) IfConfig() (ports.IfConfig, error) {
	if s.IfConfigErr != nil {
		return ports.IfConfig{}, s.IfConfigErr
	}
	return ports.IfConfig{IP: "192.168.1.20", Netmask: "255.255.255.0", Gateway: "192.168.1.1", DNS: "192.168.1.1"}, nil
}

func (s *Station) SignalStrength() (int, error) { return s.RSSI, nil }

func (s *Station) Disconnect() error {
	s.DisconnectCalls++
	s.Connected = false
	s.connecting = false
	return nil
}

// Client is a scripted BusClient.
type Client struct {
	Inbox      []ports.Message
	Published  []Published
	Subscribed []string

	SubscribeErr error
	PublishErrs  []error // consumed one per Publish call
	PingErr      error
	CheckErr     error

	Disconnected bool
}

type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

func (c *Client) Subscribe(topic string, _ byte) error {
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.Subscribed = append(c.Subscribed, topic)
	return nil
}

func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	if len(c.PublishErrs) > 0 {
		err := c.PublishErrs[0]
		c.PublishErrs = c.PublishErrs[1:]
		if err != nil {
			return err
		}
	}
	c.Published = append(c.Published, Published{Topic: topic, QoS: qos, Payload: payload})
	return nil
}

func (c *Client) Ping() error { return c.PingErr }

func (c *Client) CheckMessage() (ports.Message, error) {
	if c.CheckErr != nil {
		return ports.Message{}, c.CheckErr
	}
	if len(c.Inbox) == 0 {
		return ports.Message{}, ports.ErrNoMessage
	}
	m := c.Inbox[0]
	c.Inbox = c.Inbox[1:]
	return m, nil
}

func (c *Client) Disconnect() { c.Disconnected = true }

// Dialer hands out Clients in order. DialErrs are consumed one per Dial before
// a client is produced; a nil entry lets that Dial succeed.
type Dialer struct {
	Clients  []*Client
	DialErrs []error
	Dials    int
	Last     *Client
}

var ErrNoClient = errors.New("porttest: no client scripted")

func (d *Dialer) Dial(ctx context.Context, _ ports.BusOptions) (ports.BusClient, error) {
	d.Dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.DialErrs) > 0 {
		err := d.DialErrs[0]
		d.DialErrs = d.DialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.Clients) == 0 {
		d.Last = &Client{}
		return d.Last, nil
	}
	d.Last = d.Clients[0]
	d.Clients = d.Clients[1:]
	return d.Last, nil
}

// Strip is an in-memory ActuatorDriver recording committed frames.
type Strip struct {
	Pixels    []ports.RGB
	Frames    [][]ports.RGB
	CommitErr error
	staged    []ports.RGB
}

func NewStrip(n int) *Strip {
	return &Strip{Pixels: make([]ports.RGB, n), staged: make([]ports.RGB, n)}
}

func (s *Strip) Len() int { return len(s.staged) }

func (s *Strip) SetPixel(i int, c ports.RGB) error {
	if i < 0 || i >= len(s.staged) {
		return errors.New("porttest: pixel index out of range")
	}
	s.staged[i] = c
	return nil
}

func (s *Strip) Commit() error {
	if s.CommitErr != nil {
		return s.CommitErr
	}
	frame := make([]ports.RGB, len(s.staged))
	copy(frame, s.staged)
	s.Pixels = frame
	s.Frames = append(s.Frames, frame)
	return nil
}

// Sensor returns Values in order, then repeats the last one. Errs are consumed
// one per read before values.
type Sensor struct {
	Values []float64
	Errs   []error
	Reads  int
}

func (s *Sensor) ReadRaw() (float64, error) {
	s.Reads++
	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.Values) == 0 {
		return 0, errors.New("porttest: no sensor value")
	}
	v := s.Values[0]
	if len(s.Values) > 1 {
		s.Values = s.Values[1:]
	}
	return v, nil
}

// ADC returns a fixed raw value or Err.
type ADC struct {
	Raw int
	Err error
}

func (a ADC) Read() (int, error) { return a.Raw, a.Err }
