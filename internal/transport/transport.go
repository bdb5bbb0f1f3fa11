// Package transport defines how batches and acks move between devices and
// the collector. Implementations live in the sub packages.
package transport

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("transport closed")

// Datagram is one inbound message. Payload is owned by the receiver.
type Datagram struct {
	Source   string
	Payload  []byte
	Received time.Time
}

// Sender delivers one message toward the collector. A nil error does not
// mean the message arrived.
type Sender interface {
	Send(p []byte) error
}

// Replier answers a device identified by the Source of one of its datagrams.
type Replier interface {
	Reply(dst string, p []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(p []byte) error

func (f SenderFunc) Send(p []byte) error {
	return f(p)
}

// Own copies p so the caller may reuse its read buffer.
func Own(p []byte) []byte {
	b := make([]byte, len(p))
	copy(b, p)
	return b
}
