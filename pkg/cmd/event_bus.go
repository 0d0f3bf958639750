package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/canvasflow/pkg/channels/gochannel"
	"github.com/dukex/canvasflow/pkg/channels/kafka"
	"github.com/dukex/canvasflow/pkg/eventbus"
)

// EventBusConfig selects the message channel behind the event bus.
type EventBusConfig struct {
	Provider    string // "gochannel" or "kafka"
	Brokers     string // comma-separated, kafka only
	ServiceName string
	OTELEnabled bool
}

// NewEventBus creates the event bus for provider. Kafka subscriptions go through a
// local bridge so that every waiter in the process sees every event.
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (eventbus.EventBus, error) {
	switch cfg.Provider {
	case "", "gochannel":
		pubSub := gochannel.CreateChannel(logger)

		return eventbus.NewWatermillEventBus(pubSub, pubSub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(kafka.Config{
			Brokers:     kafka.ParseBrokers(cfg.Brokers),
			ServiceName: cfg.ServiceName,
			OTELEnabled: cfg.OTELEnabled,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewBridgedEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %q", cfg.Provider)
	}
}
