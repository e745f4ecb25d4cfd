// Package output defines the delivery surface for drained sample batches.
// Implementations live in subpackages: natspub publishes to NATS, websocket
// fans batches out to browser clients.
package output

import (
	"context"
	"time"

	"github.com/c360/acqstream/session"
)

// Batch is the wire form of one drained batch. Field names are shared by the
// JSON and msgpack encodings.
type Batch struct {
	Session   string    `json:"session" msgpack:"session"`
	Channel   string    `json:"channel" msgpack:"channel"`
	Index     int       `json:"index" msgpack:"index"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Samples   []float64 `json:"samples" msgpack:"samples"`
}

// NewBatch converts a session event.
func NewBatch(sessionID string, ev session.Event) Batch {
	return Batch{
		Session:   sessionID,
		Channel:   string(ev.Key.Class),
		Index:     ev.Key.Index,
		Timestamp: ev.Timestamp,
		Samples:   ev.Samples,
	}
}

// Sink receives batches from the drain loop. Deliver must not block for long;
// errors are logged and counted by the caller, never fatal.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, batches []Batch) error
	Close(ctx context.Context) error
}
