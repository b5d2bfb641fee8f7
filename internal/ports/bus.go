package ports

import (
	"context"
	"time"
)

// BusOptions carries what is needed to open one broker session.
type BusOptions struct {
	ClientID       string
	Host           string
	Port           int
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Message is one inbound publication.
type Message struct {
	Topic     string
	Payload   []byte
	Duplicate bool // set by the broker on QoS>0 redelivery
}

// BusDialer opens a connected client. Each Dial returns a fresh client.
type BusDialer interface {
	Dial(ctx context.Context, opts BusOptions) (BusClient, error)
}

// BusClient is a connected publish/subscribe session.
type BusClient interface {
	Subscribe(topic string, qos byte) error
	Publish(topic string, qos byte, payload []byte) error
	Ping() error
	// CheckMessage never blocks. It returns ErrNoMessage when nothing is pending.
	CheckMessage() (Message, error)
	Disconnect()
}
