// Package stream carries change-event and presence traffic between the
// backing store and subscribers. The ChangeEventRouter classifies raw
// notifications into typed events and dispatches them to registered
// handlers; transports guarantee per-subject ordering and at-least-once
// delivery, nothing across subjects.
package stream

import (
	"context"
)

// Subscription is a live subscription on a transport subject.
type Subscription interface {
	Unsubscribe() error
}

// Transport moves raw payloads on named subjects. Implementations: NATS for
// production, Bus for in-process use.
type Transport interface {
	// Publish sends data on a subject. Durable subjects (change events)
	// are retained for replay; ephemeral subjects (presence) are not.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers fn for live deliveries on a subject. Deliveries
	// for one subject arrive in publish order.
	Subscribe(subject string, fn func(data []byte)) (Subscription, error)

	// Replay returns up to limit retained payloads for a durable subject,
	// oldest first. Ephemeral subjects replay nothing.
	Replay(ctx context.Context, subject string, limit int) ([][]byte, error)

	// OnReconnect registers fn to run after the transport re-establishes a
	// dropped connection. Events published during the gap are not redelivered
	// to live subscribers. The returned func releases the registration;
	// callers with a shorter lifetime than the transport must invoke it.
	OnReconnect(fn func()) (cancel func())
}
