package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/veridianhq/veridian/pkg/channels/gochannel"
	"github.com/veridianhq/veridian/pkg/channels/kafka"
	"github.com/veridianhq/veridian/pkg/eventbus"
)

// NewEventBus creates an event bus instance based on the provider.
func NewEventBus(provider, serviceName, brokers, redisURL string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName, strings.Split(brokers, ","))
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "redis":
		bus, err := eventbus.NewRedisEventBus(redisURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis event bus: %w", err))
		}

		return bus
	case "channel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
