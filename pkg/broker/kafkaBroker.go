package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
)

// KafkaWriteTimeout bounds a single publish so a dead cluster cannot stall the notifier.
const KafkaWriteTimeout = 3 * time.Second

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaBrokerCreator func(ctx context.Context, settings *config.BrokerSettings) (MessageBroker, error)

var NewKafkaBroker KafkaBrokerCreator = func(_ context.Context, settings *config.BrokerSettings) (MessageBroker, error) {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(settings.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaBroker(writer), nil
}

func newKafkaBroker(writer kafkaWriter) *kafkaBroker {
	return &kafkaBroker{writer: writer, timeout: KafkaWriteTimeout}
}

type kafkaBroker struct {
	writer  kafkaWriter
	timeout time.Duration
}

func (k *kafkaBroker) Publish(ctx context.Context, message *Message) error {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(message.Topic),
			semconv.MessagingKafkaMessageKeyKey.String(message.Key),
		),
	)
	defer span.End()

	headers := headersWithTrace(ctx, message.Headers)
	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	wctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	err := k.writer.WriteMessages(wctx, kafka.Message{
		Topic:   message.Topic,
		Key:     []byte(message.Key),
		Value:   message.Payload,
		Headers: kafkaHeaders,
		Time:    time.Now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(message.Payload)),
	)
	return nil
}

func (k *kafkaBroker) Close() error {
	return k.writer.Close()
}
