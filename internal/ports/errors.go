package ports

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrNoMessage is the expected "nothing to read" result of a non-blocking poll.
	ErrNoMessage = errors.New("no message available")
	// ErrNotConnected reports an operation on a closed or lost session.
	ErrNotConnected = errors.New("not connected")
)

// ConfigError is fatal: the node refuses to start.
type ConfigError struct {
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LinkError is a station link failure. Timeout is set when a bounded connect gave up.
type LinkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *LinkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("station %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("station %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// BusError is a broker session failure.
type BusError struct {
	Op        string
	Transient bool // connection reset / not connected class
	Retried   bool // the reconnect-and-retry cycle was already spent
	Err       error
}

func (e *BusError) Error() string {
	s := "bus " + e.Op
	if e.Retried {
		s += " (after reconnect)"
	}
	return s + ": " + e.Err.Error()
}

func (e *BusError) Unwrap() error { return e.Err }

// SensorReadError means the sample for this cycle is skipped.
type SensorReadError struct {
	Err error
}

func (e *SensorReadError) Error() string { return "sensor read: " + e.Err.Error() }

func (e *SensorReadError) Unwrap() error { return e.Err }

// PayloadError rejects one inbound control message.
type PayloadError struct {
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return "control payload: " + e.Reason + ": " + e.Err.Error()
	}
	return "control payload: " + e.Reason
}

func (e *PayloadError) Unwrap() error { return e.Err }

// IsConnectionLoss reports whether err belongs to the reset / not-connected class that
// a reconnect can cure.
func IsConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	var be *BusError
	if errors.As(err, &be) && be.Transient {
		return true
	}
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}
