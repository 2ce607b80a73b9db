package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
)

// NewBroker creates the broker terminal events are forwarded to.
func NewBroker(ctx context.Context, cfg *config.BrokerSettings, logger *zap.Logger) (MessageBroker, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqBroker(ctx, cfg, logger)
	case "gcp-pubsub":
		return NewPubSubClient(ctx, cfg)
	case "kafka":
		return NewKafkaBroker(ctx, cfg)
	case "none", "":
		return NopBroker{}, nil
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}

// Destination returns the exchange or topic messages are published to.
func Destination(cfg *config.BrokerSettings) string {
	if cfg.Type == "rabbitmq" && cfg.Exchange != "" {
		return cfg.Exchange
	}
	return cfg.Topic
}
