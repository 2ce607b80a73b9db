package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zoff-tech/go-imagepipeline/pkg/cache"
	"github.com/zoff-tech/go-imagepipeline/pkg/retry"
	"github.com/zoff-tech/go-imagepipeline/pkg/store"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/pkg/tracking"
	"github.com/zoff-tech/go-imagepipeline/pkg/upload"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []schema.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event schema.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) ofType(eventType string) []schema.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []schema.Event
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	trackers  *tracking.Service
	cache     *cache.MemoryCache
	retries   *retry.Scheduler
	publisher *recordingPublisher
	finalizer *TransactionFinalizer
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	logger := zaptest.NewLogger(t)
	f := &fixture{
		trackers:  tracking.NewService(store.NewMemoryRepository(), tracking.WithLogger(logger)),
		cache:     cache.NewMemoryCache(),
		publisher: &recordingPublisher{},
	}
	f.retries = retry.NewScheduler(f.cache, f.publisher, retry.WithPolicy(maxRetries, time.Minute), retry.WithLogger(logger))
	f.finalizer = NewTransactionFinalizer(f.trackers, f.retries, f.cache, f.publisher, telemetry.NopMetrics(), logger)
	f.retries.SetAbandoner(f.finalizer)
	return f
}

func (f *fixture) pending(t *testing.T, productID string) schema.ImageUploadRequested {
	ctx := context.Background()
	tracker, err := f.trackers.Start(ctx, productID)
	require.NoError(t, err)
	_, err = f.trackers.Advance(ctx, tracker, schema.StatusImageUploadPending)
	require.NoError(t, err)

	request := schema.NewImageUploadRequested(productID, []schema.Image{{Filename: "a.png", ContentType: "image/png", Data: []byte{1}}})
	f.cache.Put(productID, request)
	return request
}

func (f *fixture) status(t *testing.T, productID string) schema.CreationTracker {
	tracker, err := f.trackers.Get(context.Background(), productID)
	require.NoError(t, err)
	return tracker
}

func TestHandleUploadSuccess_CompletesAndPublishes(t *testing.T) {
	f := newFixture(t, 3)
	f.pending(t, "p-1")
	_, err := f.retries.Enqueue(context.Background(), "p-1", "earlier failure")
	require.NoError(t, err)

	err = f.finalizer.HandleUploadSuccess(context.Background(), "p-1", []string{"memory://b/k"})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusCompleted, f.status(t, "p-1").Status)
	assert.Equal(t, 0, f.retries.AttemptCount("p-1"))
	assert.Equal(t, 0, f.retries.QueueSize())
	_, cached := f.cache.Get("p-1")
	assert.False(t, cached)

	uploaded := f.publisher.ofType(schema.EventImagesUploaded)
	require.Len(t, uploaded, 1)
	assert.Equal(t, []string{"memory://b/k"}, uploaded[0].(schema.ImagesUploaded).ImageURLs)
}

func TestHandleUploadSuccess_RejectsFinishedProduct(t *testing.T) {
	f := newFixture(t, 3)
	f.pending(t, "p-1")
	_, err := f.retries.Enqueue(context.Background(), "p-1", "earlier failure")
	require.NoError(t, err)
	_, err = f.trackers.FailProduct(context.Background(), "p-1", "gone")
	require.NoError(t, err)

	err = f.finalizer.HandleUploadSuccess(context.Background(), "p-1", []string{"memory://b/k"})
	assert.ErrorIs(t, err, ErrProductFinished)
	assert.Equal(t, schema.StatusFailed, f.status(t, "p-1").Status)
	assert.Empty(t, f.publisher.ofType(schema.EventImagesUploaded))
	_, cached := f.cache.Get("p-1")
	assert.False(t, cached)
	assert.Equal(t, 0, f.retries.AttemptCount("p-1"))
	assert.Equal(t, 0, f.retries.QueueSize())
}

func TestHandleUploadSuccess_UntrackedProductStillPublishes(t *testing.T) {
	f := newFixture(t, 3)

	err := f.finalizer.HandleUploadSuccess(context.Background(), "ghost", []string{"memory://b/k"})
	assert.NoError(t, err)
	assert.Len(t, f.publisher.ofType(schema.EventImagesUploaded), 1)
}

func TestHandleUploadFailure_SchedulesSlowRetry(t *testing.T) {
	f := newFixture(t, 3)
	request := f.pending(t, "p-1")

	cause := &upload.ExhaustedError{ProductID: "p-1", Attempts: 3, Err: errors.New("storage down")}
	f.finalizer.HandleUploadFailure(context.Background(), request, cause)

	tickets := f.retries.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "storage down", tickets[0].FailureReason)
	assert.Equal(t, 1, tickets[0].AttemptCount)
	assert.Equal(t, schema.StatusImageUploadPending, f.status(t, "p-1").Status)
	assert.Empty(t, f.publisher.ofType(schema.EventImageUploadFailed))
}

func TestHandleUploadFailure_AbandonsAfterRetryLimit(t *testing.T) {
	f := newFixture(t, 2)
	request := f.pending(t, "p-1")
	cause := errors.New("storage down")

	for i := 0; i < 3; i++ {
		f.finalizer.HandleUploadFailure(context.Background(), request, cause)
	}

	tracker := f.status(t, "p-1")
	assert.Equal(t, schema.StatusFailed, tracker.Status)
	assert.Equal(t, FailurePrefix+"storage down", tracker.FailureReason)
	_, cached := f.cache.Get("p-1")
	assert.False(t, cached)
	assert.Equal(t, 0, f.retries.AttemptCount("p-1"))

	failed := f.publisher.ofType(schema.EventImageUploadFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, FailurePrefix+"storage down", failed[0].(schema.ImageUploadFailed).Reason)
}

func TestHandleUploadFailure_AbandonsWhenRequestEvicted(t *testing.T) {
	f := newFixture(t, 3)
	request := f.pending(t, "p-1")
	f.cache.Remove("p-1")

	f.finalizer.HandleUploadFailure(context.Background(), request, errors.New("timeout"))

	assert.Equal(t, schema.StatusFailed, f.status(t, "p-1").Status)
	assert.Equal(t, 0, f.retries.QueueSize())
}

func TestHandleUploadFailure_DropsFinishedProduct(t *testing.T) {
	f := newFixture(t, 3)
	request := f.pending(t, "p-1")
	_, err := f.trackers.CompleteProduct(context.Background(), "p-1")
	require.NoError(t, err)

	f.finalizer.HandleUploadFailure(context.Background(), request, errors.New("late failure"))

	assert.Equal(t, 0, f.retries.QueueSize())
	assert.Equal(t, 0, f.retries.AttemptCount("p-1"))
	assert.Equal(t, schema.StatusCompleted, f.status(t, "p-1").Status)
	_, cached := f.cache.Get("p-1")
	assert.False(t, cached)
	assert.Empty(t, f.publisher.events)
}

func TestHandleUploadFailure_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t, 3)
	f.finalizer.HandleUploadFailure(context.Background(), schema.NewImagesUploaded("p-1", nil), errors.New("boom"))
	assert.Equal(t, 0, f.retries.QueueSize())
	assert.Empty(t, f.publisher.events)
}

func TestAbandon_SkipsPublishForFinishedProduct(t *testing.T) {
	f := newFixture(t, 3)
	f.pending(t, "p-1")
	_, err := f.trackers.CompleteProduct(context.Background(), "p-1")
	require.NoError(t, err)

	require.NoError(t, f.finalizer.Abandon(context.Background(), "p-1", "late"))
	assert.Equal(t, schema.StatusCompleted, f.status(t, "p-1").Status)
	assert.Empty(t, f.publisher.ofType(schema.EventImageUploadFailed))
	_, cached := f.cache.Get("p-1")
	assert.False(t, cached)
}

func TestScheduler_AbandonsThroughFinalizer(t *testing.T) {
	now := time.Date(2024, 12, 25, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, 3)
	f.retries = retry.NewScheduler(f.cache, f.publisher, retry.WithClock(func() time.Time { return now }))
	f.finalizer = NewTransactionFinalizer(f.trackers, f.retries, f.cache, f.publisher, nil, nil)
	f.retries.SetAbandoner(f.finalizer)

	f.pending(t, "p-1")
	_, err := f.retries.Enqueue(context.Background(), "p-1", "storage down")
	require.NoError(t, err)
	f.cache.Remove("p-1")

	now = now.Add(retry.DefaultBaseDelay)
	assert.Equal(t, 1, f.retries.Tick(context.Background()))

	tracker := f.status(t, "p-1")
	assert.Equal(t, schema.StatusFailed, tracker.Status)
	assert.Equal(t, FailurePrefix+retry.MissingRequestReason, tracker.FailureReason)
}

func TestCompleteWithoutImages(t *testing.T) {
	f := newFixture(t, 3)
	tracker, err := f.trackers.Start(context.Background(), "p-1")
	require.NoError(t, err)

	done, err := f.finalizer.CompleteWithoutImages(context.Background(), tracker)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, done.Status)
}
