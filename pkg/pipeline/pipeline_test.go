package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
	"github.com/zoff-tech/go-imagepipeline/pkg/imagestore"
	"github.com/zoff-tech/go-imagepipeline/pkg/processor"
	"github.com/zoff-tech/go-imagepipeline/pkg/store"
	"github.com/zoff-tech/go-imagepipeline/pkg/tracking"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

const waitFor = 2 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type terminalEvents struct {
	mu       sync.Mutex
	uploaded []schema.ImagesUploaded
	failed   []schema.ImageUploadFailed
}

func (e *terminalEvents) handle(_ context.Context, event schema.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch ev := event.(type) {
	case schema.ImagesUploaded:
		e.uploaded = append(e.uploaded, ev)
	case schema.ImageUploadFailed:
		e.failed = append(e.failed, ev)
	}
	return nil
}

func (e *terminalEvents) snapshot() ([]schema.ImagesUploaded, []schema.ImageUploadFailed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]schema.ImagesUploaded(nil), e.uploaded...), append([]schema.ImageUploadFailed(nil), e.failed...)
}

type harness struct {
	pipeline *Pipeline
	storage  *imagestore.MemoryStorage
	repo     *store.MemoryRepository
	clock    *fakeClock
	events   *terminalEvents
}

func newHarness(t *testing.T) *harness {
	logger := zaptest.NewLogger(t)
	settings := config.DefaultPipelineSettings()
	settings.UploadInitialDelay = time.Millisecond

	h := &harness{
		storage: imagestore.NewMemoryStorage("product-images", logger),
		repo:    store.NewMemoryRepository(),
		clock:   &fakeClock{now: time.Date(2024, 12, 25, 10, 0, 0, 0, time.UTC)},
		events:  &terminalEvents{},
	}
	h.storage.SetClock(h.clock.Now)
	h.pipeline = New(settings, h.repo, h.storage, WithClock(h.clock.Now), WithLogger(logger))
	h.pipeline.Dispatcher().Subscribe(schema.EventImagesUploaded, h.events.handle)
	h.pipeline.Dispatcher().Subscribe(schema.EventImageUploadFailed, h.events.handle)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, h.pipeline.Shutdown(ctx))
	})
	return h
}

func (h *harness) status(t *testing.T, productID string) schema.CreationStatus {
	view, err := h.pipeline.Status(context.Background(), productID, "")
	require.NoError(t, err)
	return view.Status
}

// awaitRetry waits until the failure route has queued the attempt-th slow retry.
func (h *harness) awaitRetry(t *testing.T, productID string, attempt int) {
	scheduler := h.pipeline.Scheduler()
	require.Eventually(t, func() bool {
		return scheduler.QueueSize() == 1 && scheduler.AttemptCount(productID) == attempt
	}, waitFor, time.Millisecond)
}

func images(n int) []schema.Image {
	out := make([]schema.Image, n)
	for i := range out {
		out[i] = schema.Image{Filename: "photo.png", ContentType: "image/png", Data: []byte{byte(i + 1), 2, 3}}
	}
	return out
}

func failPutsUpTo(n int) imagestore.FailureFunc {
	return func(call int, _ string, _ schema.Image) error {
		if call <= n {
			return errors.New("storage unavailable")
		}
		return nil
	}
}

func TestCreateProduct_UploadSucceeds(t *testing.T) {
	h := newHarness(t)

	result, err := h.pipeline.CreateProduct(context.Background(), "P", images(1))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessing, result.Status)
	assert.Equal(t, MessageProcessing, result.Message)
	assert.NotEmpty(t, result.CorrelationID)

	require.Eventually(t, func() bool { return h.status(t, "P") == schema.StatusCompleted }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		uploaded, _ := h.events.snapshot()
		return len(uploaded) == 1
	}, waitFor, time.Millisecond)

	uploaded, failed := h.events.snapshot()
	assert.Len(t, uploaded[0].ImageURLs, 1)
	assert.Empty(t, failed)
	assert.Equal(t, 0, h.pipeline.Scheduler().QueueSize())
	_, cached := h.pipeline.Cache().Get("P")
	assert.False(t, cached)

	view, err := h.pipeline.Status(context.Background(), "", result.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, 100, view.Progress)
}

func TestCreateProduct_NoImagesCompletesSynchronously(t *testing.T) {
	h := newHarness(t)

	result, err := h.pipeline.CreateProduct(context.Background(), "P", nil)
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, result.Status)
	assert.Equal(t, MessageCompleted, result.Message)

	assert.Equal(t, schema.StatusCompleted, h.status(t, "P"))
	assert.Equal(t, 0, h.pipeline.Cache().Len())
	assert.Equal(t, 0, h.pipeline.Scheduler().QueueSize())
	assert.Equal(t, 0, h.storage.Puts())
}

func TestCreateProduct_InvalidImagesAreRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.CreateProduct(context.Background(), "P", []schema.Image{{Filename: "notes.txt", ContentType: "text/plain", Data: []byte{1}}})
	assert.ErrorIs(t, err, imagestore.ErrInvalidImages)

	_, err = h.repo.FindByProductID(context.Background(), "P")
	assert.ErrorIs(t, err, store.ErrTrackerNotFound)
}

func TestCreateProduct_FastExhaustThenSlowSuccess(t *testing.T) {
	h := newHarness(t)
	h.storage.SetFailure(failPutsUpTo(3))

	_, err := h.pipeline.CreateProduct(context.Background(), "P", images(1))
	require.NoError(t, err)

	h.awaitRetry(t, "P", 1)
	assert.Equal(t, schema.StatusImageUploadPending, h.status(t, "P"))
	assert.Equal(t, 3, h.storage.Puts())

	// not due yet
	h.clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, h.pipeline.Scheduler().Tick(context.Background()))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.pipeline.Scheduler().Tick(context.Background()))

	require.Eventually(t, func() bool { return h.status(t, "P") == schema.StatusCompleted }, waitFor, time.Millisecond)
	assert.Equal(t, 4, h.storage.Puts())
	assert.Equal(t, 0, h.pipeline.Scheduler().AttemptCount("P"))
	assert.Equal(t, 0, h.pipeline.Scheduler().QueueSize())
}

func TestCreateProduct_FullExhaustionMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.storage.SetFailure(func(int, string, schema.Image) error { return errors.New("storage unavailable") })

	_, err := h.pipeline.CreateProduct(context.Background(), "P", images(1))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		h.awaitRetry(t, "P", attempt)
		assert.Equal(t, schema.StatusImageUploadPending, h.status(t, "P"))
		h.clock.Advance(time.Duration(attempt) * 5 * time.Minute)
		require.Equal(t, 1, h.pipeline.Scheduler().Tick(context.Background()))
	}

	require.Eventually(t, func() bool { return h.status(t, "P") == schema.StatusFailed }, waitFor, time.Millisecond)

	view, err := h.pipeline.Status(context.Background(), "P", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(view.FailureReason, processor.FailurePrefix))
	assert.Contains(t, view.FailureReason, "storage unavailable")
	assert.Equal(t, 0, view.Progress)

	assert.Equal(t, 12, h.storage.Puts())
	_, cached := h.pipeline.Cache().Get("P")
	assert.False(t, cached)
	assert.Equal(t, 0, h.pipeline.Scheduler().QueueSize())

	require.Eventually(t, func() bool {
		_, failed := h.events.snapshot()
		return len(failed) == 1
	}, waitFor, time.Millisecond)
}

func TestCreateProduct_CleansUpBeforeRetry(t *testing.T) {
	h := newHarness(t)
	base := h.clock.Now()
	var uploads atomic.Int64
	h.storage.SetClock(func() time.Time {
		return base.Add(time.Duration(uploads.Add(1)) * time.Second)
	})
	h.storage.SetFailure(func(call int, _ string, _ schema.Image) error {
		if call == 2 {
			return errors.New("image 2 failed")
		}
		return nil
	})

	input := images(3)
	_, err := h.pipeline.CreateProduct(context.Background(), "P", input)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.status(t, "P") == schema.StatusCompleted }, waitFor, time.Millisecond)
	assert.Equal(t, int64(2), uploads.Load())
	assert.Equal(t, 1, h.storage.Deletes())

	second := base.Add(2 * time.Second)
	want := make([]string, 0, len(input))
	for i, img := range input {
		want = append(want, imagestore.ObjectKey("P", i, img, second))
	}
	assert.ElementsMatch(t, want, h.storage.Objects())
}

func TestCreateProduct_SlowRetryUsesCachedSnapshot(t *testing.T) {
	h := newHarness(t)
	h.storage.SetFailure(failPutsUpTo(3))

	original := images(1)
	_, err := h.pipeline.CreateProduct(context.Background(), "P", original)
	require.NoError(t, err)
	h.awaitRetry(t, "P", 1)

	original[0].Data[0] = 0xFF

	h.clock.Advance(5 * time.Minute)
	require.Equal(t, 1, h.pipeline.Scheduler().Tick(context.Background()))
	require.Eventually(t, func() bool { return h.status(t, "P") == schema.StatusCompleted }, waitFor, time.Millisecond)

	objects := h.storage.Objects()
	require.Len(t, objects, 1)
	data, ok := h.storage.Object(objects[0])
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestCreateProduct_DuplicateProductKeepsTracker(t *testing.T) {
	h := newHarness(t)

	first, err := h.pipeline.CreateProduct(context.Background(), "P", nil)
	require.NoError(t, err)

	_, err = h.pipeline.CreateProduct(context.Background(), "P", images(1))
	assert.ErrorIs(t, err, tracking.ErrTrackerExists)

	view, err := h.pipeline.Status(context.Background(), "P", "")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, view.Status)
	assert.Equal(t, first.CorrelationID, view.CorrelationID)
	assert.Equal(t, 0, h.storage.Puts())
}

func TestCreateProduct_RejectedAfterShutdown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.pipeline.Shutdown(ctx))

	_, err := h.pipeline.CreateProduct(context.Background(), "P", images(1))
	require.Error(t, err)
	assert.Equal(t, schema.StatusFailed, h.status(t, "P"))
}

func TestNew_RegistersUploadWorker(t *testing.T) {
	h := newHarness(t)

	subs := h.pipeline.Dispatcher().Subscriptions()
	require.NotEmpty(t, subs)
	assert.Equal(t, schema.EventImageUploadRequested, subs[0].EventType)
	assert.Equal(t, UploadWorkerName, subs[0].Name)
	assert.True(t, subs[0].Async)
}
