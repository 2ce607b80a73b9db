package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// SpannerSchema is the DDL of the tracker table, with %s standing for the table name.
const SpannerSchema = `CREATE TABLE %s (
	product_id     STRING(64) NOT NULL,
	correlation_id STRING(64) NOT NULL,
	status         STRING(32) NOT NULL,
	failure_reason STRING(MAX),
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
) PRIMARY KEY (product_id)`

var spannerColumns = []string{"product_id", "correlation_id", "status", "failure_reason", "created_at", "updated_at"}

type SpannerRepository struct {
	client *spanner.Client
	table  string
}

func NewSpannerRepository(client *spanner.Client, table string) *SpannerRepository {
	return &SpannerRepository{client: client, table: tableOrDefault(table)}
}

func (s *SpannerRepository) Save(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, "Save")
	defer span.End()

	startTime := time.Now()
	reason := spanner.NullString{StringVal: tracker.FailureReason, Valid: tracker.FailureReason != ""}
	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate(s.table, spannerColumns, []interface{}{
			tracker.ProductID,
			tracker.CorrelationID,
			string(tracker.Status),
			reason,
			tracker.CreatedAt,
			tracker.UpdatedAt,
		}),
	})
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, fmt.Errorf("save tracker %s: %w", tracker.ProductID, err)
	}

	addDBStatsToSpan(span, "spanner", "Save", 1, time.Since(startTime))
	return tracker, nil
}

func (s *SpannerRepository) FindByProductID(ctx context.Context, productID string) (schema.CreationTracker, error) {
	return s.findOne(ctx, "FindByProductID", "product_id", productID)
}

func (s *SpannerRepository) FindByCorrelationID(ctx context.Context, correlationID string) (schema.CreationTracker, error) {
	return s.findOne(ctx, "FindByCorrelationID", "correlation_id", correlationID)
}

func (s *SpannerRepository) Close() error {
	s.client.Close()
	return nil
}

func (s *SpannerRepository) findOne(ctx context.Context, spanName, column, value string) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()
	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`SELECT product_id, correlation_id, status, failure_reason, created_at, updated_at FROM %s
              WHERE %s = @value LIMIT 1`, s.table, column),
		Params: map[string]interface{}{
			"value": value,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return schema.CreationTracker{}, fmt.Errorf("%w: %s %s", ErrTrackerNotFound, column, value)
	}
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}

	var (
		tracker schema.CreationTracker
		status  string
		reason  spanner.NullString
	)
	if err := row.Columns(
		&tracker.ProductID,
		&tracker.CorrelationID,
		&status,
		&reason,
		&tracker.CreatedAt,
		&tracker.UpdatedAt); err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}
	tracker.Status = schema.CreationStatus(status)
	if reason.Valid {
		tracker.FailureReason = reason.StringVal
	}

	addDBStatsToSpan(span, "spanner", spanName, 1, time.Since(startTime))
	return tracker, nil
}
