package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/cache"
	"github.com/zoff-tech/go-imagepipeline/pkg/imagestore"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

const (
	DefaultAttempts     = 3
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
)

// SuccessHandler finalizes a product once all of its images are stored.
type SuccessHandler interface {
	HandleUploadSuccess(ctx context.Context, productID string, urls []string) error
}

// ExhaustedError is returned when every fast attempt failed. Err is the last failure.
type ExhaustedError struct {
	ProductID string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("upload of product %s failed after %d attempts: %v", e.ProductID, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Worker uploads the images of an ImageUploadRequested event with exponential fast retries.
type Worker struct {
	cache   cache.RequestCache
	storage imagestore.ImageStorage
	success SuccessHandler
	metrics *telemetry.Metrics
	logger  *zap.Logger

	attempts     int
	initialDelay time.Duration
	multiplier   float64
}

type Option func(*Worker)

// WithRetryPolicy overrides the number of attempts and the exponential delay between them.
func WithRetryPolicy(attempts int, initialDelay time.Duration, multiplier float64) Option {
	return func(w *Worker) {
		w.attempts = attempts
		w.initialDelay = initialDelay
		w.multiplier = multiplier
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func NewWorker(c cache.RequestCache, storage imagestore.ImageStorage, success SuccessHandler, opts ...Option) *Worker {
	w := &Worker{
		cache:        c,
		storage:      storage,
		success:      success,
		attempts:     DefaultAttempts,
		initialDelay: DefaultInitialDelay,
		multiplier:   DefaultMultiplier,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.attempts < 1 {
		w.attempts = 1
	}
	w.logger = logging.OrNop(w.logger)
	return w
}

// Handle is the dispatcher entry point.
func (w *Worker) Handle(ctx context.Context, event schema.Event) error {
	request, ok := event.(schema.ImageUploadRequested)
	if !ok {
		return fmt.Errorf("upload worker cannot handle %s (%T)", event.EventType(), event)
	}
	return w.Upload(ctx, request)
}

// Upload caches the request, then stores its images. A failed attempt removes the images it
// managed to store before the next attempt starts.
func (w *Worker) Upload(ctx context.Context, request schema.ImageUploadRequested) error {
	productID := request.ProductID
	log := logging.FromContext(ctx, w.logger).With(zap.String("product_id", productID))

	w.cache.Put(productID, request)

	attempt := 0
	var urls []string
	operation := func() error {
		attempt++
		start := time.Now()
		uploaded, err := w.storage.UploadImages(ctx, request.Images, productID)
		w.metrics.UploadAttempt(ctx, attempt, float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			if len(uploaded) > 0 {
				log.Info("Cleaning up partially uploaded images", zap.Int("attempt", attempt), zap.Int("count", len(uploaded)))
				w.storage.DeleteImages(ctx, uploaded)
			}
			return err
		}
		urls = uploaded
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn("Image upload attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.attempts),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(w.retryPolicy(), ctx), notify); err != nil {
		log.Error("Image upload exhausted fast retries", zap.Int("attempts", attempt), zap.Error(err))
		return &ExhaustedError{ProductID: productID, Attempts: attempt, Err: err}
	}

	log.Info("Images uploaded", zap.Int("attempts", attempt), zap.Int("count", len(urls)))
	if err := w.success.HandleUploadSuccess(ctx, productID, urls); err != nil {
		w.storage.DeleteImages(ctx, urls)
		return fmt.Errorf("finalize upload of product %s: %w", productID, err)
	}
	return nil
}

func (w *Worker) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialDelay
	b.Multiplier = w.multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if b.MaxInterval < w.initialDelay {
		b.MaxInterval = w.initialDelay
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(w.attempts-1))
}
