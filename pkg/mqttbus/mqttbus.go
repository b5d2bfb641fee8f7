// Package mqttbus is the paho-backed broker session used by the node.
package mqttbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
)

// InboxSize bounds the number of undelivered inbound messages held per session.
const InboxSize = 32

// DefaultOpTimeout bounds a subscribe or publish acknowledgement when the options
// carry no ConnectTimeout.
const DefaultOpTimeout = 10 * time.Second

// Dialer opens paho sessions. Reconnect policy belongs to the caller, so paho's
// own auto-reconnect and connect-retry are disabled.
type Dialer struct {
	Logger *slog.Logger

	// newClient is swapped in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{Logger: logger, newClient: mqtt.NewClient}
}

func clientOptions(o ports.BusOptions) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Host, o.Port))
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}
	return opts
}

// Dial makes one connection attempt. It returns when the broker acknowledges,
// the attempt fails, or ctx ends.
func (d *Dialer) Dial(ctx context.Context, o ports.BusOptions) (ports.BusClient, error) {
	c := &Client{
		inbox:     make(chan ports.Message, InboxSize),
		opTimeout: o.ConnectTimeout,
		logger:    d.Logger.With("client_id", o.ClientID),
	}
	if c.opTimeout <= 0 {
		c.opTimeout = DefaultOpTimeout
	}
	opts := clientOptions(o)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setLost(err)
	})

	newClient := d.newClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	c.mc = newClient(opts)

	token := c.mc.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.mc.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", o.Host, o.Port, err)
	}
	d.Logger.Info("Connected to MQTT broker", "host", o.Host, "port", o.Port, "client_id", o.ClientID)
	return c, nil
}

// Client adapts a paho client to ports.BusClient. paho delivers publications on its
// own goroutine; they are handed over through a buffered inbox so that CheckMessage
// can be called from the run loop without blocking.
type Client struct {
	mc        mqtt.Client
	inbox     chan ports.Message
	opTimeout time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	lost error
}

func (c *Client) setLost(err error) {
	if err == nil {
		err = ports.ErrNotConnected
	}
	c.mu.Lock()
	c.lost = err
	c.mu.Unlock()
	c.logger.Warn("MQTT connection lost", "err", err)
}

func (c *Client) lostErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// notConnected classifies err so callers can tell a reconnect might help.
func (c *Client) notConnected(op string, err error) error {
	if lost := c.lostErr(); lost != nil {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrNotConnected, lost)
	}
	if errors.Is(err, mqtt.ErrNotConnected) || !c.mc.IsConnectionOpen() {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrNotConnected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wait bounds token by opTimeout. A broker that never acknowledges is treated
// as a lost connection.
func (c *Client) wait(op string, token mqtt.Token) error {
	if !token.WaitTimeout(c.opTimeout) {
		return fmt.Errorf("%s: %w: no acknowledgement within %s", op, ports.ErrNotConnected, c.opTimeout)
	}
	if err := token.Error(); err != nil {
		return c.notConnected(op, err)
	}
	return nil
}

func (c *Client) Subscribe(topic string, qos byte) error {
	token := c.mc.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		msg := ports.Message{Topic: m.Topic(), Payload: m.Payload(), Duplicate: m.Duplicate()}
		select {
		case c.inbox <- msg:
		default:
			c.logger.Warn("Inbox full, dropping message", "topic", m.Topic())
		}
	})
	if err := c.wait("subscribe "+topic, token); err != nil {
		return err
	}
	c.logger.Info("Subscribed", "topic", topic, "qos", qos)
	return nil
}

func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	if lost := c.lostErr(); lost != nil {
		return c.notConnected("publish "+topic, lost)
	}
	return c.wait("publish "+topic, c.mc.Publish(topic, qos, false, payload))
}

// Ping reports liveness of the session. paho sends PINGREQ itself on the keepalive
// interval and drops the connection when the broker stops answering; this surfaces
// that outcome to the caller.
func (c *Client) Ping() error {
	if lost := c.lostErr(); lost != nil {
		return fmt.Errorf("ping: %w: %v", ports.ErrNotConnected, lost)
	}
	if !c.mc.IsConnectionOpen() {
		return fmt.Errorf("ping: %w", ports.ErrNotConnected)
	}
	return nil
}

func (c *Client) CheckMessage() (ports.Message, error) {
	select {
	case m := <-c.inbox:
		return m, nil
	default:
	}
	if lost := c.lostErr(); lost != nil {
		return ports.Message{}, fmt.Errorf("check message: %w: %v", ports.ErrNotConnected, lost)
	}
	return ports.Message{}, ports.ErrNoMessage
}

func (c *Client) Disconnect() {
	if c.mc.IsConnected() {
		c.mc.Disconnect(250)
		c.logger.Info("MQTT connection closed")
	}
}
