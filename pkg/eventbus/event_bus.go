// Package eventbus provides the message channel through which the engine and its
// collaborators exchange trigger input, cancellations and live run updates.
package eventbus

import (
	"context"

	"github.com/dukex/canvasflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber hands out independent subscriptions: every subscription receives
// every event of the requested types published after it was opened. The channel is
// closed once ctx is done or the bus is closed. Delivered events are pointers to the
// concrete event structs of package events.
type EventSubscriber interface {
	Subscribe(ctx context.Context, types ...events.EventType) (<-chan Event, error)
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
