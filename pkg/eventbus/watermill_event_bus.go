package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/canvasflow/pkg/events"
)

const subscriptionBuffer = 16

var ErrBusClosed = errors.New("event bus closed")

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	active atomic.Int64
	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	if eb.closed.Load() {
		return ErrBusClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.TopicFor(event.GetType()), msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, types ...events.EventType) (<-chan Event, error) {
	if eb.closed.Load() {
		return nil, ErrBusClosed
	}

	ctx, cancel := context.WithCancel(ctx)

	sources := make([]<-chan *message.Message, 0, len(types))

	for _, t := range types {
		messages, err := eb.subscriber.Subscribe(ctx, events.TopicFor(t))
		if err != nil {
			cancel()

			return nil, err
		}

		sources = append(sources, messages)
	}

	out := make(chan Event, subscriptionBuffer)

	eb.active.Add(1)
	eb.wg.Add(1)

	go func() {
		defer eb.wg.Done()
		defer eb.active.Add(-1)
		defer close(out)
		defer cancel()

		var forwarders sync.WaitGroup
		for _, messages := range sources {
			forwarders.Add(1)

			go func() {
				defer forwarders.Done()
				eb.forward(ctx, messages, out)
			}()
		}

		forwarders.Wait()
	}()

	return out, nil
}

func (eb *WatermillEventBus) forward(ctx context.Context, messages <-chan *message.Message, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			event, err := events.Decode(eventType, msg.Payload)
			if err != nil {
				eb.logger.WarnContext(ctx, "Dropping undecodable event", "event_type", eventType, "error", err)
				msg.Ack()

				continue
			}

			msg.Ack()

			typed, ok := event.(Event)
			if !ok {
				continue
			}

			select {
			case out <- typed:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ActiveSubscriptions returns the number of subscriptions whose channel is still open.
func (eb *WatermillEventBus) ActiveSubscriptions() int {
	return int(eb.active.Load())
}

func (eb *WatermillEventBus) Close() error {
	if !eb.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	// a GoChannel is both publisher and subscriber and was closed above
	if closer, ok := eb.subscriber.(message.Publisher); !ok || closer != eb.publisher {
		if err := eb.subscriber.Close(); err != nil {
			return err
		}
	}

	eb.wg.Wait()

	return nil
}
