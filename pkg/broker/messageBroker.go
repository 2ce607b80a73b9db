package broker

import "context"

// Message is one terminal event ready to leave the process.
type Message struct {
	// Topic is the exchange for RabbitMQ and the topic for Pub/Sub and Kafka.
	Topic string
	// RoutingKey carries the event type.
	RoutingKey string
	// Key orders messages of the same product.
	Key     string
	Payload []byte
	Headers map[string]string
}

// MessageBroker defines the operations to publish messages to a broker.
type MessageBroker interface {
	// Publish sends the message to its topic or exchange.
	Publish(ctx context.Context, message *Message) error
	// Close cleans up any resources (connections).
	Close() error
}

// NopBroker drops every message. It backs the "none" broker type.
type NopBroker struct{}

func (NopBroker) Publish(context.Context, *Message) error { return nil }

func (NopBroker) Close() error { return nil }
