// Package eventbus provides event-driven communication infrastructure for
// definition lifecycle notifications.
package eventbus

import (
	"context"

	"github.com/veridianhq/veridian/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes pre-serialized event payloads. The outbox
// dispatcher hands payloads through exactly as they were enqueued, so the
// publisher never re-marshals.
type EventPublisher interface {
	Publish(ctx context.Context, key string, eventType events.EventType, payload []byte) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
