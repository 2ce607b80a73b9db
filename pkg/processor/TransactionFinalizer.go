package processor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/cache"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/retry"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/pkg/tracking"
	"github.com/zoff-tech/go-imagepipeline/pkg/upload"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// FailurePrefix starts the reason recorded on a FAILED tracker.
const FailurePrefix = "Image upload failed after retries: "

// ErrProductFinished is returned when an upload lands for a product that is already COMPLETED or FAILED.
var ErrProductFinished = errors.New("product already finished")

// Trackers is the part of the tracking service the finalizer drives.
type Trackers interface {
	Get(ctx context.Context, productID string) (schema.CreationTracker, error)
	Complete(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error)
	CompleteProduct(ctx context.Context, productID string) (schema.CreationTracker, error)
	FailProduct(ctx context.Context, productID, reason string) (schema.CreationTracker, error)
}

// RetryQueue is the slow retry scheduler as seen by the finalizer.
type RetryQueue interface {
	Enqueue(ctx context.Context, productID, reason string) (retry.RetryTicket, error)
	Forget(productID string)
	AttemptCount(productID string) int
	QueueSize() int
}

// TransactionFinalizer closes out product creations: it completes them after an upload,
// hands failed uploads to the slow retry queue and abandons products that ran out of retries.
type TransactionFinalizer struct {
	trackers  Trackers
	retries   RetryQueue
	cache     cache.RequestCache
	publisher retry.Publisher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

func NewTransactionFinalizer(trackers Trackers, retries RetryQueue, c cache.RequestCache, publisher retry.Publisher, metrics *telemetry.Metrics, logger *zap.Logger) *TransactionFinalizer {
	return &TransactionFinalizer{
		trackers:  trackers,
		retries:   retries,
		cache:     c,
		publisher: publisher,
		metrics:   metrics,
		tracer:    otel.Tracer(telemetry.TracerName),
		logger:    logging.OrNop(logger),
	}
}

// HandleUploadSuccess completes the tracker, clears the retry state and announces the stored images.
func (f *TransactionFinalizer) HandleUploadSuccess(ctx context.Context, productID string, urls []string) error {
	ctx, span := f.tracer.Start(ctx, "HandleUploadSuccess", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("images.count", len(urls)),
	))
	defer span.End()

	log := logging.FromContext(ctx, f.logger).With(zap.String("product_id", productID))

	_, err := f.trackers.CompleteProduct(ctx, productID)
	switch {
	case errors.Is(err, schema.ErrInvalidTransition):
		log.Warn("Discarding upload for a finished product", zap.Error(err))
		f.retries.Forget(productID)
		f.cache.Remove(productID)
		return fmt.Errorf("%w: %s", ErrProductFinished, productID)
	case errors.Is(err, tracking.ErrTrackerNotFound):
		log.Warn("Upload succeeded for an untracked product")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	f.retries.Forget(productID)
	f.cache.Remove(productID)

	if err := f.publisher.Publish(ctx, schema.NewImagesUploaded(productID, urls)); err != nil {
		log.Error("Failed to publish images uploaded event", zap.Error(err))
	}
	log.Info("Product creation completed", zap.Strings("image_urls", urls))
	return nil
}

// HandleUploadFailure is the failure route of the upload worker. The tracker stays pending while a
// slow retry is possible.
func (f *TransactionFinalizer) HandleUploadFailure(ctx context.Context, event schema.Event, err error) {
	request, ok := event.(schema.ImageUploadRequested)
	if !ok {
		logging.FromContext(ctx, f.logger).Error("Unexpected event on upload failure route",
			zap.String("event_type", event.EventType()), zap.Error(err))
		return
	}
	productID := request.ProductID

	ctx, span := f.tracer.Start(ctx, "HandleUploadFailure", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.String("event.id", request.EventID),
	))
	defer span.End()
	span.RecordError(err)

	reason := err.Error()
	var exhausted *upload.ExhaustedError
	if errors.As(err, &exhausted) {
		reason = exhausted.Err.Error()
	}

	log := logging.FromContext(ctx, f.logger).With(zap.String("product_id", productID))
	if tracker, err := f.trackers.Get(ctx, productID); err == nil && tracker.Status.IsTerminal() {
		log.Warn("Dropping upload failure for a finished product",
			zap.String("status", string(tracker.Status)), zap.String("reason", reason))
		f.cache.Remove(productID)
		f.retries.Forget(productID)
		return
	}

	log.Error("Product image upload failed",
		zap.String("event_id", request.EventID),
		zap.Time("occurred_at", request.OccurredAt),
		zap.String("reason", reason))

	if _, cached := f.cache.Get(productID); !cached {
		log.Warn("Cannot retry image upload, original request not found in cache")
		f.abandon(ctx, productID, reason, "cache_miss")
		return
	}

	if _, err := f.retries.Enqueue(ctx, productID, reason); err != nil {
		if errors.Is(err, retry.ErrRetryLimitExceeded) {
			f.abandon(ctx, productID, reason, "retry_limit")
			return
		}
		log.Error("Failed to schedule slow retry", zap.Error(err))
	}
	f.logFailureAnalysis(ctx, productID, reason)
}

// Abandon is called by the retry scheduler when a product cannot be retried any more.
func (f *TransactionFinalizer) Abandon(ctx context.Context, productID, reason string) error {
	return f.abandon(ctx, productID, reason, "retry_scheduler")
}

// CompleteWithoutImages finishes a creation that has no images to upload.
func (f *TransactionFinalizer) CompleteWithoutImages(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	return f.trackers.Complete(ctx, tracker)
}

func (f *TransactionFinalizer) abandon(ctx context.Context, productID, reason, cause string) error {
	ctx, span := f.tracer.Start(ctx, "AbandonUpload", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.String("abandon.cause", cause),
	))
	defer span.End()

	log := logging.FromContext(ctx, f.logger).With(zap.String("product_id", productID))
	failureReason := FailurePrefix + reason

	_, err := f.trackers.FailProduct(ctx, productID, failureReason)
	terminal := errors.Is(err, schema.ErrInvalidTransition)
	switch {
	case terminal:
		log.Warn("Product already finished, not marking it failed", zap.Error(err))
	case errors.Is(err, tracking.ErrTrackerNotFound):
		log.Warn("Abandoning an untracked product")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Failed to mark product failed", zap.Error(err))
		return err
	}

	f.cache.Remove(productID)
	f.retries.Forget(productID)
	if terminal {
		return nil
	}

	f.metrics.RetryAbandoned(ctx, cause)
	log.Error("Image upload permanently failed", zap.String("reason", failureReason), zap.String("cause", cause))
	if err := f.publisher.Publish(ctx, schema.NewImageUploadFailed(productID, failureReason)); err != nil {
		log.Error("Failed to publish image upload failed event", zap.Error(err))
	}
	return nil
}

func (f *TransactionFinalizer) logFailureAnalysis(ctx context.Context, productID, reason string) {
	fields := []zap.Field{
		zap.String("product_id", productID),
		zap.String("reason", reason),
		zap.Int("retry_count", f.retries.AttemptCount(productID)),
		zap.Int("queue_size", f.retries.QueueSize()),
	}
	if tracker, err := f.trackers.Get(ctx, productID); err == nil {
		fields = append(fields, zap.Any("tracker", tracker))
	} else {
		fields = append(fields, zap.String("tracker", "no tracker found"))
	}
	logging.FromContext(ctx, f.logger).Warn("Failure analysis", fields...)
}
