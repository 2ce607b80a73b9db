package imagestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
)

var NewS3Client = func(ctx context.Context, cfg config.StorageSettings) (S3API, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

var NewGCSClient = func(ctx context.Context, cfg config.StorageSettings) (GCSAPI, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return GCSClient{Client: client}, nil
}

// NewStorage builds the configured image storage.
func NewStorage(ctx context.Context, cfg config.StorageSettings, logger *zap.Logger) (ImageStorage, error) {
	switch cfg.Type {
	case "s3":
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Storage, err := NewS3Storage(ctx, client, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s3Storage, nil
	case "gcs":
		client, err := NewGCSClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		gcsStorage, err := NewGCSStorage(ctx, client, cfg, logger)
		if err != nil {
			return nil, err
		}
		return gcsStorage, nil
	case "memory":
		return NewMemoryStorage(cfg.Bucket, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
