package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// CorrelationIndex is the global secondary index keyed by correlation_id.
const CorrelationIndex = "correlation_id-index"

// DynamoAPI is the subset of the DynamoDB client the repository calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type DynamoRepository struct {
	db        DynamoAPI
	tableName string
}

func NewDynamoRepository(db DynamoAPI, table string) *DynamoRepository {
	return &DynamoRepository{db: db, tableName: tableOrDefault(table)}
}

func (d *DynamoRepository) Save(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, "Save")
	defer span.End()

	startTime := time.Now()
	item, err := attributevalue.MarshalMap(tracker)
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, fmt.Errorf("marshal tracker %s: %w", tracker.ProductID, err)
	}

	_, err = d.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, fmt.Errorf("save tracker %s: %w", tracker.ProductID, err)
	}

	addDBStatsToSpan(span, "dynamodb", "PutItem", 1, time.Since(startTime))
	return tracker, nil
}

func (d *DynamoRepository) FindByProductID(ctx context.Context, productID string) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, "FindByProductID")
	defer span.End()

	startTime := time.Now()
	out, err := d.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}
	if out.Item == nil {
		return schema.CreationTracker{}, fmt.Errorf("%w: product_id %s", ErrTrackerNotFound, productID)
	}

	var tracker schema.CreationTracker
	if err := attributevalue.UnmarshalMap(out.Item, &tracker); err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}

	addDBStatsToSpan(span, "dynamodb", "GetItem", 1, time.Since(startTime))
	return tracker, nil
}

func (d *DynamoRepository) FindByCorrelationID(ctx context.Context, correlationID string) (schema.CreationTracker, error) {
	ctx, span := tracer().Start(ctx, "FindByCorrelationID")
	defer span.End()

	startTime := time.Now()
	out, err := d.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(CorrelationIndex),
		KeyConditionExpression: aws.String("correlation_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: correlationID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}
	if len(out.Items) == 0 {
		return schema.CreationTracker{}, fmt.Errorf("%w: correlation_id %s", ErrTrackerNotFound, correlationID)
	}

	var tracker schema.CreationTracker
	if err := attributevalue.UnmarshalMap(out.Items[0], &tracker); err != nil {
		span.RecordError(err)
		return schema.CreationTracker{}, err
	}

	addDBStatsToSpan(span, "dynamodb", "Query", len(out.Items), time.Since(startTime))
	return tracker, nil
}

func (d *DynamoRepository) Close() error {
	return nil
}
