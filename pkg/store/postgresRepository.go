package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

//go:embed postgres_schema.sql
var postgresSchema string

type PostgresRepository struct {
	db    *sql.DB // using database/sql
	table string
}

func NewPostgresRepository(db *sql.DB, table string) *PostgresRepository {
	return &PostgresRepository{db: db, table: tableOrDefault(table)}
}

// EnsureSchema creates the tracker table when it does not exist yet.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ddl := strings.ReplaceAll(postgresSchema, DefaultTable, p.table)
	_, err := p.withTransaction(ctx, "EnsureSchema", func(ctx context.Context, tx *sql.Tx) (int, error) {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return 0, err
		}
		return 0, nil
	})
	return err
}

func (p *PostgresRepository) Save(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	query := fmt.Sprintf(`INSERT INTO %s (product_id, correlation_id, status, failure_reason, created_at, updated_at)
             VALUES ($1, $2, $3, $4, $5, $6)
             ON CONFLICT (product_id) DO UPDATE SET status = EXCLUDED.status, failure_reason = EXCLUDED.failure_reason, updated_at = EXCLUDED.updated_at
             RETURNING id`, p.table)

	_, err := p.withTransaction(ctx, "Save", func(ctx context.Context, tx *sql.Tx) (int, error) {
		reason := sql.NullString{String: tracker.FailureReason, Valid: tracker.FailureReason != ""}
		row := tx.QueryRowContext(ctx, query,
			tracker.ProductID, tracker.CorrelationID, string(tracker.Status), reason, tracker.CreatedAt, tracker.UpdatedAt)
		if err := row.Scan(&tracker.ID); err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return schema.CreationTracker{}, fmt.Errorf("save tracker %s: %w", tracker.ProductID, err)
	}
	return tracker, nil
}

func (p *PostgresRepository) FindByProductID(ctx context.Context, productID string) (schema.CreationTracker, error) {
	return p.findOne(ctx, "FindByProductID", "product_id", productID)
}

func (p *PostgresRepository) FindByCorrelationID(ctx context.Context, correlationID string) (schema.CreationTracker, error) {
	return p.findOne(ctx, "FindByCorrelationID", "correlation_id", correlationID)
}

func (p *PostgresRepository) Close() error {
	return p.db.Close()
}

func (p *PostgresRepository) findOne(ctx context.Context, spanName, column, value string) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, spanName)
	defer span.End()

	query := fmt.Sprintf(`SELECT id, product_id, correlation_id, status, failure_reason, created_at, updated_at FROM %s WHERE %s = $1`,
		p.table, column)

	startTime := time.Now()
	var (
		tracker schema.CreationTracker
		status  string
		reason  sql.NullString
	)
	err := p.db.QueryRowContext(ctx, query, value).Scan(
		&tracker.ID,
		&tracker.ProductID,
		&tracker.CorrelationID,
		&status,
		&reason,
		&tracker.CreatedAt,
		&tracker.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.CreationTracker{}, fmt.Errorf("%w: %s %s", ErrTrackerNotFound, column, value)
	}
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}
	tracker.Status = schema.CreationStatus(status)
	tracker.FailureReason = reason.String

	addDBStatsToSpan(span, "postgresql", spanName, 1, time.Since(startTime))
	return tracker, nil
}

func (p *PostgresRepository) withTransaction(ctx context.Context, spanName string, fn func(ctx context.Context, tx *sql.Tx) (int, error)) (int, error) {
	ctx, span := tracer().Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	rows, err := fn(ctx, tx)
	if err != nil {
		span.RecordError(err)
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, err
	}

	addDBStatsToSpan(span, "postgresql", spanName, rows, time.Since(startTime))
	return rows, nil
}
