// Package audit emits broker lifecycle events for the platform's audit
// pipeline. Persistence is owned by a downstream consumer; this package
// only publishes.
package audit

import (
	"github.com/tacoreio/tacore/pkg/protocol"
)

// Event kinds.
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindEviction = "eviction"
)

// Event is one audit record. Timestamps are seconds since the Unix epoch,
// matching the wire format.
type Event struct {
	Kind      string  `json:"kind"`
	RequestID string  `json:"request_id,omitempty"`
	Method    string  `json:"method,omitempty"`
	WorkerID  string  `json:"worker_id,omitempty"`
	ClientID  string  `json:"client_id,omitempty"`
	Status    string  `json:"status,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Publisher receives broker audit events. Implementations must not block;
// the broker calls Publish from its router loop.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
func (NopPublisher) Close() error  { return nil }

// NewEvent creates an event stamped with the current time.
func NewEvent(kind string) Event {
	return Event{Kind: kind, Timestamp: protocol.Now()}
}
