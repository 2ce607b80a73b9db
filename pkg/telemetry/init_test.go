package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
)

func TestInit_Success(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "test-service",
		TracingURL:  "http://localhost:4318",
		MetricsURL:  "http://localhost:4318",
	}

	shutdown, err := Init(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())

	shutdown()
}

func TestInit_NoEndpoints(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "test-service",
	}

	assert.False(t, Enabled(cfg))
	shutdown, err := Init(cfg)
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestInit_MetricsOnly(t *testing.T) {
	prev := otel.GetMeterProvider()
	defer otel.SetMeterProvider(prev)

	cfg := config.Observability{
		ServiceName: "test-service",
		MetricsURL:  "http://localhost:4318",
	}

	assert.True(t, Enabled(cfg))
	shutdown, err := Init(cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, isSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK)

	shutdown()
}

func TestInit_EmptyServiceName(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "",
		TracingURL:  "http://localhost:4318",
	}

	shutdown, err := Init(cfg)
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestMetrics_RecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.UploadAttempt(ctx, 1, 12.5, errors.New("boom"))
	m.UploadAttempt(ctx, 2, 8, nil)
	m.RetryEnqueued(ctx, 1)
	m.RetryAbandoned(ctx, "retry_limit")
	m.CacheEvicted(ctx, 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics[0].Metrics {
		names[sm.Name] = true
	}
	for _, name := range []string{
		"imagepipe.upload.attempts",
		"imagepipe.upload.failures",
		"imagepipe.upload.duration",
		"imagepipe.retry.enqueued",
		"imagepipe.retry.abandoned",
		"imagepipe.cache.evictions",
	} {
		assert.True(t, names[name], name)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.UploadAttempt(context.Background(), 1, 1, nil)
		m.RetryEnqueued(context.Background(), 1)
		m.RetryAbandoned(context.Background(), "x")
		m.CacheEvicted(context.Background(), 1)
	})
	assert.NotNil(t, NopMetrics())
}
