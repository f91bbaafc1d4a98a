package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/evergreenhq/journeys/pkg/channels/gochannel"
	"github.com/evergreenhq/journeys/pkg/channels/kafka"
	"github.com/evergreenhq/journeys/pkg/eventbus"
)

// NewEventBus creates an event bus instance based on the provider. The kafka
// provider reads its broker list from KAFKA_BROKERS (comma separated).
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		brokers := kafkaBrokers()
		if len(brokers) == 0 {
			panic("KAFKA_BROKERS environment variable is not set or empty")
		}

		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokers, "journeys")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel", "memory":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}

func kafkaBrokers() []string {
	var brokers []string

	for _, broker := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}
