// Package store persists reconstructed points. Put must not block the
// caller for long: implementations buffer and write in the background.
package store

import (
	"context"
	"time"

	"nuha.dev/trackpoint/internal/position"
)

type Store interface {
	Put(p position.Point)
}

// Reader is implemented by stores that can answer queries.
type Reader interface {
	Latest(ctx context.Context, device string, limit int) ([]position.Point, error)
}

// Multi writes every point to each store in turn.
type Multi []Store

func (m Multi) Put(p position.Point) {
	for _, s := range m {
		s.Put(p)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(position.Point) {}

// EventStore records device lifecycle events next to the points.
type EventStore interface {
	SaveEvent(device string, event string, message string, t time.Time)
}

type NopEvents struct{}

func (NopEvents) SaveEvent(string, string, string, time.Time) {}
