package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// MemoryRepository keeps trackers in process memory. It backs the "memory" database type and tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	nextID        int64
	byProduct     map[string]schema.CreationTracker
	byCorrelation map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byProduct:     make(map[string]schema.CreationTracker),
		byCorrelation: make(map[string]string),
	}
}

func (m *MemoryRepository) Save(_ context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byProduct[tracker.ProductID]; ok {
		tracker.ID = existing.ID
		tracker.CorrelationID = existing.CorrelationID
		tracker.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		tracker.ID = m.nextID
	}
	m.byProduct[tracker.ProductID] = tracker
	m.byCorrelation[tracker.CorrelationID] = tracker.ProductID
	return tracker, nil
}

func (m *MemoryRepository) FindByProductID(_ context.Context, productID string) (schema.CreationTracker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tracker, ok := m.byProduct[productID]
	if !ok {
		return schema.CreationTracker{}, fmt.Errorf("%w: product_id %s", ErrTrackerNotFound, productID)
	}
	return tracker, nil
}

func (m *MemoryRepository) FindByCorrelationID(_ context.Context, correlationID string) (schema.CreationTracker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	productID, ok := m.byCorrelation[correlationID]
	if !ok {
		return schema.CreationTracker{}, fmt.Errorf("%w: correlation_id %s", ErrTrackerNotFound, correlationID)
	}
	return m.byProduct[productID], nil
}

// Len returns the number of stored trackers.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byProduct)
}

func (m *MemoryRepository) Close() error {
	return nil
}
