package store

import (
	"context"
	"errors"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// ErrTrackerNotFound is returned when no tracker matches the lookup key.
var ErrTrackerNotFound = errors.New("creation tracker not found")

// TrackerRepository persists product creation trackers.
type TrackerRepository interface {
	// Save inserts the tracker or updates the row keyed by its product id and returns the stored copy.
	Save(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error)
	// FindByProductID loads the tracker of a product.
	FindByProductID(ctx context.Context, productID string) (schema.CreationTracker, error)
	// FindByCorrelationID loads the tracker a client was handed at creation time.
	FindByCorrelationID(ctx context.Context, correlationID string) (schema.CreationTracker, error)
	// Close releases the underlying connection.
	Close() error
}
