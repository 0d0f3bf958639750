package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/canvasflow/pkg/events"
)

// BridgedEventBus publishes to a remote broker and fans every remote message out to
// all local subscriptions. Brokers such as Kafka balance a topic across the members
// of a consumer group; the bridge consumes each topic once and rebroadcasts it on an
// in-process GoChannel so that concurrent waiters all observe every event.
type BridgedEventBus struct {
	*WatermillEventBus

	remote message.Subscriber
	local  *gochannel.GoChannel
	logger *slog.Logger

	mu      sync.Mutex
	bridged map[events.EventType]bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewBridgedEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *BridgedEventBus {
	if logger == nil {
		logger = slog.Default()
	}

	local := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())

	return &BridgedEventBus{
		WatermillEventBus: NewWatermillEventBus(pub, local, logger),
		remote:            sub,
		local:             local,
		logger:            logger.With("module", "eventbus_bridge"),
		bridged:           make(map[events.EventType]bool),
		ctx:               ctx,
		cancel:            cancel,
	}
}

func (b *BridgedEventBus) Subscribe(ctx context.Context, types ...events.EventType) (<-chan Event, error) {
	for _, t := range types {
		if err := b.bridge(t); err != nil {
			return nil, err
		}
	}

	return b.WatermillEventBus.Subscribe(ctx, types...)
}

func (b *BridgedEventBus) bridge(t events.EventType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bridged[t] {
		return nil
	}

	topic := events.TopicFor(t)

	messages, err := b.remote.Subscribe(b.ctx, topic)
	if err != nil {
		return err
	}

	b.bridged[t] = true
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		for msg := range messages {
			if err := b.local.Publish(topic, msg.Copy()); err != nil {
				b.logger.Error("Failed to rebroadcast event", "topic", topic, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (b *BridgedEventBus) Close() error {
	b.cancel()

	if err := b.remote.Close(); err != nil {
		b.logger.Error("Failed to close remote subscriber", "error", err)
	}

	b.wg.Wait()

	return b.WatermillEventBus.Close()
}
