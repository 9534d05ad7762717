// Package eventbus publishes and consumes approval lifecycle events.
package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/refund-approvals/pkg/events"
)

// Event is any approval lifecycle payload.
type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish sends event keyed by key; events sharing a key keep their order on partitioned buses.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded payload, a pointer to the event struct registered for the type.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// HandleTyped registers handler for eventType, asserting the payload to *T.
func HandleTyped[T any](sub EventSubscriber, eventType events.EventType, handler func(ctx context.Context, event *T) error) error {
	return sub.Handle(eventType, func(ctx context.Context, event any) error {
		typed, ok := event.(*T)
		if !ok {
			return fmt.Errorf("unexpected %s payload %T", eventType, event)
		}

		return handler(ctx, typed)
	})
}
