package config

// BrokerSettings holds configuration for the broker terminal events are forwarded to.
type BrokerSettings struct {
	Type      string   `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub kafka none"`
	URL       string   `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange  string   `mapstructure:"exchange"`
	ProjectID string   `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"` // Optional for brokers like GCP Pub/Sub
	PoolSize  int      `mapstructure:"pool_size" validate:"gte=0"`                        // Optional for RabbitMQ
	Brokers   []string `mapstructure:"brokers" validate:"required_if=Type kafka"`         // Kafka bootstrap servers
	Topic     string   `mapstructure:"topic"`
}
