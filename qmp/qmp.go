// Package qmp implements the guest control channel: newline-delimited JSON
// over a loopback TCP socket, speaking the QEMU Machine Protocol. One client
// owns one connection; a background read loop correlates responses to
// in-flight commands by id and fans events out to subscribers.
package qmp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotReady rejects commands sent before capabilities negotiation completes.
	ErrNotReady = errors.New("control channel not negotiated")
	// ErrChannelClosed rejects in-flight commands when the connection drops.
	ErrChannelClosed = errors.New("control channel closed")
	// ErrCommandTimeout marks a command whose response never arrived.
	ErrCommandTimeout = errors.New("control command timed out")
)

// CommandError is a structured failure response from the guest monitor.
type CommandError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Desc)
}

// Greeting is the banner the monitor sends on connect, before any command
// is accepted.
type Greeting struct {
	Version struct {
		QEMU struct {
			Major int `json:"major"`
			Minor int `json:"minor"`
			Micro int `json:"micro"`
		} `json:"qemu"`
		Package string `json:"package"`
	} `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// Event is an asynchronous notification from the monitor. Events are never
// correlated with commands; they go to subscribers only.
type Event struct {
	Name      string
	Data      json.RawMessage
	Timestamp time.Time
}

// request is the client→monitor wire record.
type request struct {
	Execute   string `json:"execute"`
	ID        *int   `json:"id,omitempty"`
	Arguments any    `json:"arguments,omitempty"`
}

// serverMessage is the monitor→client wire record. Exactly one of the
// discriminating fields (QMP, Event, ID) identifies each line.
type serverMessage struct {
	QMP       *Greeting       `json:"QMP,omitempty"`
	ID        *int            `json:"id,omitempty"`
	Return    json.RawMessage `json:"return,omitempty"`
	Error     *CommandError   `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *wireTimestamp  `json:"timestamp,omitempty"`
}

// wireTimestamp is the split-second event clock on the wire.
type wireTimestamp struct {
	Seconds      int64 `json:"seconds"`
	Microseconds int64 `json:"microseconds"`
}

func (t *wireTimestamp) time() time.Time {
	if t == nil {
		return time.Time{}
	}
	return time.Unix(t.Seconds, t.Microseconds*int64(time.Microsecond))
}
