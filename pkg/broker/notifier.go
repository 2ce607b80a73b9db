package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/events"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// Header names set on every forwarded event.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// Envelope is the JSON body of a forwarded event.
type Envelope struct {
	EventType  string          `json:"event_type"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Notifier forwards terminal pipeline events to a message broker.
type Notifier struct {
	broker MessageBroker
	topic  string
	tracer trace.Tracer
	logger *zap.Logger
}

func NewNotifier(broker MessageBroker, topic string, logger *zap.Logger) *Notifier {
	return &Notifier{
		broker: broker,
		topic:  topic,
		tracer: otel.Tracer(telemetry.TracerName),
		logger: logging.OrNop(logger),
	}
}

// Register subscribes the notifier to the terminal events of d.
func (n *Notifier) Register(d *events.Dispatcher) {
	for _, eventType := range []string{schema.EventImagesUploaded, schema.EventImageUploadFailed} {
		d.Subscribe(eventType, n.Handle, events.Async(), events.Named("broker-notifier"), events.OnFailure(n.onFailure))
	}
}

// Handle publishes event to the broker.
func (n *Notifier) Handle(ctx context.Context, event schema.Event) error {
	productID, ok := productOf(event)
	if !ok {
		return fmt.Errorf("notifier cannot forward %s", event.EventType())
	}

	ctx, span := n.tracer.Start(ctx, "ForwardEvent", trace.WithAttributes(
		attribute.String("event.type", event.EventType()),
		attribute.String("event.id", event.Meta().EventID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	message, err := n.message(event, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := n.broker.Publish(ctx, message); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}

	logging.FromContext(ctx, n.logger).Debug("Forwarded event",
		zap.String("event_type", event.EventType()),
		zap.String("product_id", productID),
		zap.String("topic", n.topic))
	return nil
}

func (n *Notifier) message(event schema.Event, productID string) (*Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	meta := event.Meta()
	payload, err := json.Marshal(Envelope{
		EventType:  event.EventType(),
		EventID:    meta.EventID,
		OccurredAt: meta.OccurredAt,
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	return &Message{
		Topic:      n.topic,
		RoutingKey: event.EventType(),
		Key:        productID,
		Payload:    payload,
		Headers: map[string]string{
			HeaderEventID:   meta.EventID,
			HeaderEventType: event.EventType(),
		},
	}, nil
}

func (n *Notifier) onFailure(ctx context.Context, event schema.Event, err error) {
	logging.FromContext(ctx, n.logger).Error("Failed to forward event",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.Meta().EventID),
		zap.Error(err))
}

func productOf(event schema.Event) (string, bool) {
	switch e := event.(type) {
	case schema.ImagesUploaded:
		return e.ProductID, true
	case schema.ImageUploadFailed:
		return e.ProductID, true
	default:
		return "", false
	}
}
