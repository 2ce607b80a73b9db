package imagestore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// FailureFunc decides whether the call-th put (counted from 1 across the storage lifetime) of an image fails.
type FailureFunc func(call int, key string, img schema.Image) error

// MemoryStorage keeps objects in process memory. Failures can be injected per put.
type MemoryStorage struct {
	bucket string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	deletes int
	failure FailureFunc
}

func NewMemoryStorage(bucket string, logger *zap.Logger) *MemoryStorage {
	return &MemoryStorage{
		bucket:  bucket,
		logger:  logging.OrNop(logger),
		now:     time.Now,
		objects: make(map[string][]byte),
	}
}

// SetFailure installs (or clears, with nil) the failure injector.
func (m *MemoryStorage) SetFailure(fn FailureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = fn
}

// SetClock overrides the clock used for object keys.
func (m *MemoryStorage) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStorage) UploadImages(ctx context.Context, images []schema.Image, productID string) ([]string, error) {
	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()

	return uploadAll(ctx, m.logger, "memory", images, productID, now, func(_ context.Context, key string, img schema.Image) (string, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.puts++
		if m.failure != nil {
			if err := m.failure(m.puts, key, img); err != nil {
				return "", err
			}
		}
		data := make([]byte, len(img.Data))
		copy(data, img.Data)
		m.objects[key] = data
		return "memory://" + m.bucket + "/" + key, nil
	})
}

func (m *MemoryStorage) DeleteImages(ctx context.Context, urls []string) {
	deleteAll(ctx, m.logger, "memory", m.bucket, urls, func(_ context.Context, key string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.deletes++
		delete(m.objects, key)
		return nil
	})
}

// Objects returns the keys currently stored.
func (m *MemoryStorage) Objects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}

// Object returns a copy of the payload stored under key.
func (m *MemoryStorage) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Puts returns how many object writes were attempted, failed ones included.
func (m *MemoryStorage) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Deletes returns how many object deletions were performed.
func (m *MemoryStorage) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}
