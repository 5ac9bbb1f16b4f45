// README: Ride lifecycle events and the publisher contract.
package events

import (
	"context"
	"sync"
	"time"

	"ridewise/internal/types"
)

type Type string

const (
	RideRequested   Type = "ride.requested"
	RideClaimed     Type = "ride.claimed"
	RideRejected    Type = "ride.rejected"
	RideReset       Type = "ride.reset"
	RideOTPVerified Type = "ride.otp_verified"
	RideDroppedOff  Type = "ride.dropped_off"
	RideCompleted   Type = "ride.completed"
	RideCancelled   Type = "ride.cancelled"
)

type Event struct {
	Type    Type           `json:"type"`
	RideID  types.ID       `json:"ride_id,omitempty"`
	ActorID types.ID       `json:"actor_id,omitempty"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher delivers events to downstream consumers. Services treat publish
// failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps published events in order; used in tests and local runs.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types lists the published event types in order.
func (p *MemoryPublisher) Types() []Type {
	evs := p.Events()
	out := make([]Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
