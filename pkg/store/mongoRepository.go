package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

type MongoRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoRepository(client *mongo.Client, database, collection string) *MongoRepository {
	return &MongoRepository{
		client:     client,
		database:   database,
		collection: tableOrDefault(collection),
	}
}

func (m *MongoRepository) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

// EnsureIndexes creates the unique lookup indexes on product and correlation id.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, span := tracer().Start(ctx, "EnsureIndexes")
	defer span.End()

	_, err := m.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "product_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("create tracker indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) Save(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, "Save")
	defer span.End()

	startTime := time.Now()
	filter := bson.M{"product_id": tracker.ProductID}
	update := bson.M{
		"$set": bson.M{
			"status":         tracker.Status,
			"failure_reason": tracker.FailureReason,
			"updated_at":     tracker.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"correlation_id": tracker.CorrelationID,
			"created_at":     tracker.CreatedAt,
		},
	}
	if _, err := m.coll().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, fmt.Errorf("save tracker %s: %w", tracker.ProductID, err)
	}

	addDBStatsToSpan(span, "mongodb", "Save", 1, time.Since(startTime))
	return tracker, nil
}

func (m *MongoRepository) FindByProductID(ctx context.Context, productID string) (schema.CreationTracker, error) {
	return m.findOne(ctx, "FindByProductID", "product_id", productID)
}

func (m *MongoRepository) FindByCorrelationID(ctx context.Context, correlationID string) (schema.CreationTracker, error) {
	return m.findOne(ctx, "FindByCorrelationID", "correlation_id", correlationID)
}

func (m *MongoRepository) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *MongoRepository) findOne(ctx context.Context, spanName, field, value string) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()
	var tracker schema.CreationTracker
	err := m.coll().FindOne(ctx, bson.M{field: value}).Decode(&tracker)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return schema.CreationTracker{}, fmt.Errorf("%w: %s %s", ErrTrackerNotFound, field, value)
	}
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}

	addDBStatsToSpan(span, "mongodb", spanName, 1, time.Since(startTime))
	return tracker, nil
}
