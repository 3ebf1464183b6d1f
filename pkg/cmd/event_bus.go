package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gymops/automation/pkg/channels/gochannel"
	"github.com/gymops/automation/pkg/channels/kafka"
	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/eventbus"
)

// NewEventBus builds the lifecycle event bus. Services sharing a Kafka consumer group
// split the messages between them, so the worker and the API use different names.
func NewEventBus(provider, brokers, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case config.EventBusKafka:
		pub, sub, err := kafka.CreateChannel(adapter, kafka.Brokers(brokers), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case config.EventBusGoChannel, "":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
