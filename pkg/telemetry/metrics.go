package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics groups the instruments recorded by the upload, retry and cache components.
// The zero value is not usable; a nil *Metrics is, and records nothing.
type Metrics struct {
	uploadAttempts metric.Int64Counter
	uploadFailures metric.Int64Counter
	uploadDuration metric.Float64Histogram
	retryEnqueued  metric.Int64Counter
	retryAbandoned metric.Int64Counter
	cacheEvictions metric.Int64Counter
}

// NewMetrics creates the pipeline instruments on provider. A nil provider uses the global one.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(TracerName)

	var (
		m   Metrics
		err error
	)
	if m.uploadAttempts, err = meter.Int64Counter("imagepipe.upload.attempts",
		metric.WithDescription("Upload attempts against the object store")); err != nil {
		return nil, fmt.Errorf("create upload attempts counter: %w", err)
	}
	if m.uploadFailures, err = meter.Int64Counter("imagepipe.upload.failures",
		metric.WithDescription("Failed upload attempts")); err != nil {
		return nil, fmt.Errorf("create upload failures counter: %w", err)
	}
	if m.uploadDuration, err = meter.Float64Histogram("imagepipe.upload.duration",
		metric.WithDescription("Duration of a single upload attempt"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create upload duration histogram: %w", err)
	}
	if m.retryEnqueued, err = meter.Int64Counter("imagepipe.retry.enqueued",
		metric.WithDescription("Slow retries scheduled")); err != nil {
		return nil, fmt.Errorf("create retry enqueued counter: %w", err)
	}
	if m.retryAbandoned, err = meter.Int64Counter("imagepipe.retry.abandoned",
		metric.WithDescription("Products whose upload was abandoned")); err != nil {
		return nil, fmt.Errorf("create retry abandoned counter: %w", err)
	}
	if m.cacheEvictions, err = meter.Int64Counter("imagepipe.cache.evictions",
		metric.WithDescription("Expired upload requests evicted from the cache")); err != nil {
		return nil, fmt.Errorf("create cache evictions counter: %w", err)
	}
	return &m, nil
}

// NopMetrics returns instruments backed by the no-op provider.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) UploadAttempt(ctx context.Context, attempt int, durationMs float64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("attempt", attempt))
	m.uploadAttempts.Add(ctx, 1, attrs)
	m.uploadDuration.Record(ctx, durationMs, attrs)
	if err != nil {
		m.uploadFailures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RetryEnqueued(ctx context.Context, attempt int) {
	if m == nil {
		return
	}
	m.retryEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

func (m *Metrics) RetryAbandoned(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.retryAbandoned.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (m *Metrics) CacheEvicted(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cacheEvictions.Add(ctx, int64(n))
}
