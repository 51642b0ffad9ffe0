package ports

import (
	"context"

	"cortex-backend/internal/domain"
)

// EventHandler processes one delivered envelope. Returning an error signals
// the transport to redeliver (at-least-once); handlers must therefore be
// idempotent with respect to the correlation id.
type EventHandler func(ctx context.Context, envelope domain.Envelope) error

// Subscription is a live topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// EventBus is the message transport. Delivery is at-least-once; ordering is
// preserved per correlation id only.
type EventBus interface {
	// Publish sends an envelope on a topic.
	Publish(ctx context.Context, topic string, envelope domain.Envelope) error

	// Subscribe registers a handler for a topic. Handlers run on the bus's
	// bounded worker pool; when the pool is saturated, consumption stalls
	// rather than buffering unboundedly.
	Subscribe(topic string, handler EventHandler) (Subscription, error)

	// Close drains in-flight handlers and disconnects.
	Close() error
}
