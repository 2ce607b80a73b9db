package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// S3API is the subset of the S3 client the storage calls.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage writes images to S3 or any S3 compatible store such as MinIO.
type S3Storage struct {
	client  S3API
	bucket  string
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewS3Storage makes sure the bucket exists and returns the storage.
func NewS3Storage(ctx context.Context, client S3API, cfg config.StorageSettings, logger *zap.Logger) (*S3Storage, error) {
	s := &S3Storage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL(cfg),
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func baseURL(cfg config.StorageSettings) string {
	switch {
	case cfg.PublicURL != "":
		return cfg.PublicURL
	case cfg.Endpoint != "":
		return cfg.Endpoint
	default:
		return fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
	}
}

func (s *S3Storage) ensureBucket(ctx context.Context, region string) error {
	ctx, span := tracer().Start(ctx, "EnsureBucket")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		log.Info("Bucket already exists", zap.String("bucket", s.bucket))
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		span.RecordError(err)
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		span.RecordError(err)
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Info("Created bucket", zap.String("bucket", s.bucket))
	return nil
}

func (s *S3Storage) UploadImages(ctx context.Context, images []schema.Image, productID string) ([]string, error) {
	return uploadAll(ctx, s.logger, "s3", images, productID, s.now(), func(ctx context.Context, key string, img schema.Image) (string, error) {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(img.Data),
			ContentLength: aws.Int64(int64(img.Size())),
			ContentType:   aws.String(img.ContentType),
		})
		if err != nil {
			return "", err
		}
		return ObjectURL(s.baseURL, s.bucket, key), nil
	})
}

func (s *S3Storage) DeleteImages(ctx context.Context, urls []string) {
	deleteAll(ctx, s.logger, "s3", s.bucket, urls, func(ctx context.Context, key string) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
}
