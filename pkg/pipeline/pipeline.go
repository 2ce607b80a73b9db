package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/broker"
	"github.com/zoff-tech/go-imagepipeline/pkg/cache"
	"github.com/zoff-tech/go-imagepipeline/pkg/config"
	"github.com/zoff-tech/go-imagepipeline/pkg/events"
	"github.com/zoff-tech/go-imagepipeline/pkg/imagestore"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/processor"
	"github.com/zoff-tech/go-imagepipeline/pkg/retry"
	"github.com/zoff-tech/go-imagepipeline/pkg/store"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/pkg/tracking"
	"github.com/zoff-tech/go-imagepipeline/pkg/upload"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// Creation result statuses and messages.
const (
	ResultProcessing = "PROCESSING"
	ResultCompleted  = "COMPLETED"

	MessageCompleted  = "Product registered successfully."
	MessageProcessing = "Product registered. Image upload is in progress."
)

// UploadWorkerName names the upload subscription.
const UploadWorkerName = "upload-worker"

// CreationResult is returned synchronously to the product creation caller.
type CreationResult struct {
	ProductID     string `json:"product_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type Option func(*options)

type options struct {
	now     func() time.Time
	broker  broker.MessageBroker
	topic   string
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// WithClock drives the tracker timestamps, the cache retention and the slow retry schedule.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBroker forwards terminal events to b on topic.
func WithBroker(b broker.MessageBroker, topic string) Option {
	return func(o *options) {
		o.broker = b
		o.topic = topic
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Pipeline wires the tracker, the dispatcher, the upload worker and both retry tiers together.
type Pipeline struct {
	settings   config.PipelineSettings
	dispatcher *events.Dispatcher
	cache      *cache.MemoryCache
	sweeper    *cache.Sweeper
	scheduler  *retry.Scheduler
	trackers   *tracking.Service
	finalizer  *processor.TransactionFinalizer
	tracer     trace.Tracer
	logger     *zap.Logger
}

func New(settings config.PipelineSettings, repo store.TrackerRepository, storage imagestore.ImageStorage, opts ...Option) *Pipeline {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)
	metrics := o.metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}

	requests := cache.NewMemoryCache(
		cache.WithClock(o.now),
		cache.WithRetention(settings.CacheRetention),
		cache.WithEvictionHook(func(n int) { metrics.CacheEvicted(context.Background(), n) }),
	)
	dispatcher := events.NewDispatcher(settings.Workers, settings.QueueSize, logger.Named("dispatcher"))
	trackers := tracking.NewService(repo,
		tracking.WithClock(func() time.Time { return o.now().UTC() }),
		tracking.WithLogger(logger.Named("tracking")))
	scheduler := retry.NewScheduler(requests, dispatcher,
		retry.WithPolicy(settings.RetryMaxAttempts, settings.RetryBaseDelay),
		retry.WithTickInterval(settings.RetryTickInterval),
		retry.WithClock(o.now),
		retry.WithMetrics(metrics),
		retry.WithLogger(logger.Named("retry")))
	finalizer := processor.NewTransactionFinalizer(trackers, scheduler, requests, dispatcher, metrics, logger.Named("finalizer"))
	scheduler.SetAbandoner(finalizer)

	worker := upload.NewWorker(requests, storage, finalizer,
		upload.WithRetryPolicy(settings.UploadAttempts, settings.UploadInitialDelay, settings.UploadMultiplier),
		upload.WithMetrics(metrics),
		upload.WithLogger(logger.Named("upload")))
	dispatcher.Subscribe(schema.EventImageUploadRequested, worker.Handle,
		events.Async(),
		events.Named(UploadWorkerName),
		events.OnFailure(finalizer.HandleUploadFailure))

	if o.broker != nil {
		broker.NewNotifier(o.broker, o.topic, logger.Named("notifier")).Register(dispatcher)
	}

	return &Pipeline{
		settings:   settings,
		dispatcher: dispatcher,
		cache:      requests,
		sweeper:    cache.NewSweeper(requests, settings.CacheSweepInterval, logger.Named("cache")),
		scheduler:  scheduler,
		trackers:   trackers,
		finalizer:  finalizer,
		tracer:     otel.Tracer(telemetry.TracerName),
		logger:     logger,
	}
}

// CreateProduct starts tracking productID and schedules the upload of its images.
// Only invalid input and tracker persistence failures are returned; upload outcomes are visible through Status.
func (p *Pipeline) CreateProduct(ctx context.Context, productID string, images []schema.Image) (CreationResult, error) {
	ctx, span := p.tracer.Start(ctx, "CreateProduct", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("images.count", len(images)),
	))
	defer span.End()

	fail := func(err error) (CreationResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CreationResult{}, err
	}

	if err := imagestore.ValidateImages(images, p.settings.MaxImages, p.settings.MaxImageSize); err != nil {
		return fail(err)
	}

	tracker, err := p.trackers.Start(ctx, productID)
	if err != nil {
		return fail(fmt.Errorf("start tracking product %s: %w", productID, err))
	}
	log := logging.FromContext(ctx, p.logger).With(
		zap.String("product_id", productID),
		zap.String("correlation_id", tracker.CorrelationID))

	if len(images) == 0 {
		if _, err := p.finalizer.CompleteWithoutImages(ctx, tracker); err != nil {
			return fail(fmt.Errorf("complete product %s: %w", productID, err))
		}
		log.Info("Product registered without images")
		return CreationResult{
			ProductID:     productID,
			CorrelationID: tracker.CorrelationID,
			Status:        ResultCompleted,
			Message:       MessageCompleted,
		}, nil
	}

	if _, err := p.trackers.Advance(ctx, tracker, schema.StatusImageUploadPending); err != nil {
		return fail(fmt.Errorf("advance product %s: %w", productID, err))
	}

	request := schema.NewImageUploadRequested(productID, schema.CloneImages(images))
	if err := p.dispatcher.Publish(ctx, request); err != nil {
		log.Error("Failed to schedule image upload", zap.Error(err))
		if abandonErr := p.finalizer.Abandon(ctx, productID, err.Error()); abandonErr != nil {
			log.Error("Failed to abandon product", zap.Error(abandonErr))
		}
		return fail(fmt.Errorf("schedule image upload of product %s: %w", productID, err))
	}

	log.Info("Product registered, image upload scheduled", zap.Int("images", len(images)))
	return CreationResult{
		ProductID:     productID,
		CorrelationID: tracker.CorrelationID,
		Status:        ResultProcessing,
		Message:       MessageProcessing,
	}, nil
}

// Status returns the creation status by correlation id when given, by product id otherwise.
func (p *Pipeline) Status(ctx context.Context, productID, correlationID string) (tracking.CreationStatusView, error) {
	if correlationID != "" {
		return p.trackers.StatusByCorrelationID(ctx, correlationID)
	}
	return p.trackers.StatusByProductID(ctx, productID)
}

// Run drives the slow retry timer and the cache sweeper until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg conc.WaitGroup
	wg.Go(func() { p.scheduler.Run(ctx) })
	wg.Go(func() { p.sweeper.Run(ctx) })
	wg.Wait()
}

// Shutdown stops accepting new uploads and waits for in-flight handlers or ctx.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.dispatcher.Shutdown(ctx)
}

// Scheduler exposes the slow retry queue for diagnostics.
func (p *Pipeline) Scheduler() *retry.Scheduler { return p.scheduler }

// Cache exposes the request cache for diagnostics.
func (p *Pipeline) Cache() cache.RequestCache { return p.cache }

// Dispatcher exposes the event dispatcher so callers can register extra observers.
func (p *Pipeline) Dispatcher() *events.Dispatcher { return p.dispatcher }
