package memory

import (
	"context"
	"sync"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
)

// Bus is the in-memory event transport. Publishes record the envelope per
// topic; subscribed handlers run synchronously on the publisher's goroutine,
// which keeps test assertions deterministic.
type Bus struct {
	failer

	mu        sync.Mutex
	published map[string][]domain.Envelope
	handlers  map[string][]ports.EventHandler
}

// NewBus creates an empty in-memory bus.
func NewBus() *Bus {
	return &Bus{
		failer:    newFailer(),
		published: make(map[string][]domain.Envelope),
		handlers:  make(map[string][]ports.EventHandler),
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, envelope domain.Envelope) error {
	if err := b.checkError("Publish"); err != nil {
		return err
	}

	b.mu.Lock()
	b.published[topic] = append(b.published[topic], envelope)
	handlers := make([]ports.EventHandler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.Unlock()

	for _, handler := range handlers {
		_ = handler(ctx, envelope)
	}
	return nil
}

func (b *Bus) Subscribe(topic string, handler ports.EventHandler) (ports.Subscription, error) {
	if err := b.checkError("Subscribe"); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	b.mu.Unlock()
	return busSubscription{}, nil
}

func (b *Bus) Close() error {
	return b.checkError("Close")
}

// Published returns copies of the envelopes published on a topic.
func (b *Bus) Published(topic string) []domain.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Envelope, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}

type busSubscription struct{}

func (busSubscription) Unsubscribe() error { return nil }
